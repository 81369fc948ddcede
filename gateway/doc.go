// Package gateway is the host side of the enclave boundary. It serializes
// calls into a single enclave, checks buffer sizes before crossing and turns
// boundary statuses into errors wrapping the interfaces error kinds.
package gateway
