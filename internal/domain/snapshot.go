package domain

import "time"

// VersionContent is an immutable snapshot of an object's prior state, taken
// on update when versioning is enabled. VersionNumber is monotonic per
// object, starting at 1. Never mutated after creation; pruned by age.
type VersionContent struct {
	ID               string    `json:"id"`
	ObjectID         string    `json:"objectId"`
	EntityID         string    `json:"entityId"`
	ServiceName      string    `json:"serviceName"`
	VersionNumber    int64     `json:"versionNumber"`
	CreatedByUserID  string    `json:"createdByUserId"`
	CreatedAt        time.Time `json:"createdAt"`
	SerializedObject []byte    `json:"serializedObject"`
}

// TrashContent is an immutable snapshot of a deleted object, recoverable via
// restore until pruned. ID is the deleted object's identity, which is what
// makes a second delete of the same identity collide.
type TrashContent struct {
	ID               string    `json:"id"`
	CreatedByUserID  string    `json:"createdByUserId"`
	CreatedAt        time.Time `json:"createdAt"`
	SerializedObject []byte    `json:"serializedObject"`
	ServiceName      string    `json:"serviceName"`
	SystemID         string    `json:"systemId"`
	RepositoryID     string    `json:"repositoryId"`
	EntityID         string    `json:"entityId"`
}
