// Package commit implements the two-phase commit coordinator shared by
// leader election and fragment distribution.
//
// Every phase is a concurrent fan-out over the selected nodes followed by a
// barrier: the coordinator always waits for every answer, and a timeout or
// error from a node is a "no". Run commits only when all nodes prepared and
// otherwise rolls back every selected node, so a piece is either placed on
// all of its nodes or on none of them.
package commit
