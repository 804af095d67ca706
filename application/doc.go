// Package application assembles registry, transport, contract, elector,
// distributor and access consensus into one simulated network.
package application
