package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func JobStatusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s", jobID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

func ScanReportKey(repoID uuid.UUID, branch string) string {
	return fmt.Sprintf("scan:%s:%s", repoID, branch)
}
