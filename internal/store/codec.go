package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

func validJobID(jobID string) error {
	if jobID == "" {
		return fmt.Errorf("jobID cannot be empty")
	}
	if strings.ContainsAny(jobID, `/\`) || jobID == "." || jobID == ".." {
		return fmt.Errorf("invalid jobID: %q", jobID)
	}
	return nil
}

// encodeCheckpoint validates and serializes a checkpoint. Both stores share
// the JSON layout so checkpoints can be copied between backends.
func encodeCheckpoint(checkpoint *Checkpoint) ([]byte, error) {
	if checkpoint == nil {
		return nil, fmt.Errorf("checkpoint cannot be nil")
	}
	if err := checkpoint.Validate(); err != nil {
		return nil, fmt.Errorf("refusing to save invalid checkpoint: %w", err)
	}

	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize checkpoint: %w", err)
	}
	return data, nil
}

func decodeCheckpoint(data []byte) (*Checkpoint, error) {
	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to deserialize checkpoint: %w", err)
	}
	return &checkpoint, nil
}

func sortNewestFirst(infos []CheckpointInfo) {
	sort.SliceStable(infos, func(i, j int) bool {
		return infos[i].Timestamp.After(infos[j].Timestamp)
	})
}

// SelectForDeletion applies a retention policy to a checkpoint listing.
// Checkpoints older than olderThan are selected (0 disables the age rule),
// and beyond that only the keepLast newest survive (0 disables the count rule).
func SelectForDeletion(infos []CheckpointInfo, keepLast int, olderThan time.Duration, now time.Time) []CheckpointInfo {
	sorted := append([]CheckpointInfo(nil), infos...)
	sortNewestFirst(sorted)

	var toDelete []CheckpointInfo
	for i, info := range sorted {
		expired := olderThan > 0 && info.Timestamp.Before(now.Add(-olderThan))
		surplus := keepLast > 0 && i >= keepLast
		if expired || surplus {
			toDelete = append(toDelete, info)
		}
	}
	return toDelete
}
