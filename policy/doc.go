// Package policy implements the access policy contract.
//
// A Contract stores the data blocks of the network together with the list
// of seekers approved for each of them and the attribute-based Policy that
// protects it. CheckAccess grants access when either rule is met and bumps
// the per-block agreement counter; the counter only ever grows.
package policy
