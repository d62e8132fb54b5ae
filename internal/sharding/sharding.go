package sharding

import (
	"fmt"
	"hash/crc32"
)

// ShardCount is the fixed number of partitions for change subjects.
const ShardCount = 1024

// GetShardID calculates the deterministic shard ID for a given entity ID.
func GetShardID(entityID string) int {
	checksum := crc32.ChecksumIEEE([]byte(entityID))
	return int(checksum % ShardCount)
}

// GetSubject returns the change subject for an entity.
// Format: app.task.{shard_id}.{entity_type}.{entity_id}
func GetSubject(entityType, entityID string) string {
	shardID := GetShardID(entityID)
	return fmt.Sprintf("app.task.%d.%s.%s", shardID, entityType, entityID)
}

// UserSubject is the subject that carries change notices for one user's tasks.
func UserSubject(userID string) string {
	return GetSubject("user", userID)
}

// UserFilter matches UserSubject(userID) regardless of shard.
func UserFilter(userID string) string {
	return "app.task.*.user." + userID
}
