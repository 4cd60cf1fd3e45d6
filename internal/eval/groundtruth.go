package eval

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	dashLineRe = regexp.MustCompile(`^-+$`)
	mediaExtRe = regexp.MustCompile(`(?i)\.(mp4|mov|wav|mp3|avi|mkv|flv|m4v)$`)
)

// LoadGroundTruth reads reference lines from a .txt or .json file.
// Text files may carry dash-delimited header blocks naming the source
// recording; those are filtered out along with bare media filenames.
func LoadGroundTruth(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ground truth: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		return parseJSONGroundTruth(raw)
	}

	var lines []string
	inHeader := false
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if dashLineRe.MatchString(line) {
			inHeader = !inHeader
			continue
		}
		if inHeader {
			continue
		}
		if mediaExtRe.MatchString(line) {
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func parseJSONGroundTruth(raw []byte) ([]string, error) {
	var asList []string
	if err := json.Unmarshal(raw, &asList); err == nil {
		return asList, nil
	}

	var asMap map[string]json.RawMessage
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return nil, fmt.Errorf("parse ground truth json: %w", err)
	}
	for _, key := range []string{"text", "transcript", "ground_truth", "reference"} {
		rawVal, ok := asMap[key]
		if !ok {
			continue
		}
		var list []string
		if err := json.Unmarshal(rawVal, &list); err == nil {
			return list, nil
		}
		var single string
		if err := json.Unmarshal(rawVal, &single); err == nil {
			return []string{single}, nil
		}
	}

	var values []string
	for _, rawVal := range asMap {
		var s string
		if err := json.Unmarshal(rawVal, &s); err == nil {
			values = append(values, s)
		}
	}
	return values, nil
}
