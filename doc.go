// Package elytra contains the shared domain types for the Elytra compute
// engine: pipeline operation descriptors, dataset metadata, and the framed
// messages exchanged between the control plane, its workers and its
// observers. The control plane lives in the cluster package, the dataset
// catalog in catalog, and the worker runtime in worker.
package elytra
