package workers

import (
	"fmt"

	"github.com/poddigest/poddigest/internal/models"
)

// stageRef is the digest identity every stage payload carries
type stageRef struct {
	DigestID string
	ConfigID uint
	UserID   string
}

// parseStageRef extracts the digest identity from a stage job payload.
// A job missing it is a broken handoff and never worth retrying.
func parseStageRef(job *models.Job) (*stageRef, error) {
	digestID, ok := job.GetPayloadString("digestId")
	if !ok || digestID == "" {
		return nil, models.NewContractError("bad-payload", "stage job payload is missing digestId",
			fmt.Sprintf("job %d on queue %s", job.ID, job.Queue), nil)
	}

	configID, ok := job.GetPayloadInt("configId")
	if !ok || configID <= 0 {
		return nil, models.NewContractError("bad-payload", "stage job payload is missing configId",
			fmt.Sprintf("job %d on queue %s", job.ID, job.Queue), nil)
	}

	userID, _ := job.GetPayloadString("userId")

	return &stageRef{
		DigestID: digestID,
		ConfigID: uint(configID),
		UserID:   userID,
	}, nil
}

// requireEpisodeIDs extracts the episode id list handed over by the
// previous stage
func requireEpisodeIDs(job *models.Job) ([]uint, error) {
	ids, ok := job.GetPayloadUintSlice("episodeIds")
	if !ok || len(ids) == 0 {
		return nil, models.NewContractError("bad-payload", "stage job payload is missing episodeIds",
			fmt.Sprintf("job %d on queue %s", job.ID, job.Queue), nil)
	}
	return ids, nil
}
