package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"deepfrog/internal/logger"
)

// ParseFile reads every decodable entry of a journal. A missing journal is
// empty; malformed lines are skipped.
func ParseFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	s := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	s.Buffer(buf, 2*1024*1024)
	line := 0
	skipped := 0
	for s.Scan() {
		line++
		var entry Entry
		if err := json.Unmarshal(s.Bytes(), &entry); err != nil {
			skipped++
			logger.GetLogger().WithField("line", line).Debugf("skipping malformed journal line: %v", err)
			continue
		}
		entries = append(entries, entry)
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}
	if skipped > 0 {
		logger.GetLogger().Warnf("journal %s: skipped %d malformed line(s)", path, skipped)
	}
	return entries, nil
}
