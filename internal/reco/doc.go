// Package reco owns the reconstruction data model shared by the pointing
// and merging code: hits, clusters, pointing vertices and the repository
// contract through which algorithms read and modify named cluster lists.
//
// Hits and clusters are borrowed from a repository. Algorithms read their
// fields and request changes through Repository; they never allocate,
// free or re-parent these objects themselves.
package reco
