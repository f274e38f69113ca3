package reco

// Repository is the external owner of hits and named cluster lists.
type Repository interface {
	// ClusterList returns a snapshot of the named list. It returns an error
	// wrapping ErrMissingCollection when the list does not exist.
	ClusterList(name string) ([]*Cluster, error)

	// IsHitAvailable reports whether hit is free to be added to a cluster.
	IsHitAvailable(hit *Hit) bool

	// DeleteClusters removes clusters from the named list as one batch and
	// releases their hits.
	DeleteClusters(clusters []*Cluster, listName string) error

	// AddIsolatedHitToCluster attaches hit to cluster as an isolated member.
	AddIsolatedHitToCluster(cluster *Cluster, hit *Hit) error
}
