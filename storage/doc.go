// Package storage provides the local store of a node, where committed key
// fragments and data chunks are kept. Memory is the default backend;
// Pebble persists the values in an LSM tree and caches reads in an LRU.
package storage
