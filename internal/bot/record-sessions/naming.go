package recordsessions

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/google/uuid"
)

// recordingDir is <base>/<guild>/<channel>/<year>/<Month>.
func recordingDir(base string, guildID, channelID snowflake.ID, at time.Time) string {
	at = at.UTC()

	return filepath.Join(
		base,
		guildID.String(),
		channelID.String(),
		strconv.Itoa(at.Year()),
		at.Month().String(),
	)
}

// recordingFileName is <unix ms>-<user id>-<8 hex chars>; the suffix tells apart
// two recordings of one user started in the same millisecond.
func recordingFileName(at time.Time, userID snowflake.ID) string {
	return fmt.Sprintf("%d-%d-%s", at.UnixMilli(), userID, uuid.NewString()[:8])
}

// objectKey mirrors the on-disk layout below the base directory.
func objectKey(base, path string) (string, error) {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return "", fmt.Errorf("failed to build object key: %w", err)
	}

	return filepath.ToSlash(rel), nil
}
