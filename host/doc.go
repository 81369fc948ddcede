// Package host wires configuration, the launch token cache and sealed blob
// storage around a gateway.
package host
