package storage

import (
	"fmt"

	"github.com/ruteri/tee-keyseal/interfaces"
)

var namespaces = map[interfaces.ContentType]string{
	interfaces.SealedKeyType:    "sealed-keys",
	interfaces.SealedRecordType: "sealed-records",
}

// namespaceFor returns the directory or key prefix holding contentType.
func namespaceFor(contentType interfaces.ContentType) (string, error) {
	ns, ok := namespaces[contentType]
	if !ok {
		return "", fmt.Errorf("unsupported content type: %v", contentType)
	}
	return ns, nil
}
