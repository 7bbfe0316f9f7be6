package extraction

import (
	"encoding/json"
	"fmt"
	"os"

	"ordex/internal/decision"
)

// featureFile is the on-disk rubric: every feature to extract with
// its decision tree.
type featureFile struct {
	Features []struct {
		Name  string           `json:"name"`
		Root  decision.NodeID  `json:"root"`
		Nodes []*decision.Node `json:"nodes"`
	} `json:"features"`
}

// LoadFeatures reads and validates the feature rubric. Every tree is
// checked at load time; a malformed tree fails the run before any
// task is dispatched.
func LoadFeatures(path string) ([]Feature, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read feature rubric %s: %w", path, err)
	}

	var file featureFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse feature rubric %s: %w", path, err)
	}
	if len(file.Features) == 0 {
		return nil, fmt.Errorf("feature rubric %s declares no features", path)
	}

	features := make([]Feature, 0, len(file.Features))
	seen := make(map[string]bool)
	for _, f := range file.Features {
		if f.Name == "" {
			return nil, fmt.Errorf("feature rubric %s: feature with empty name", path)
		}
		if seen[f.Name] {
			return nil, fmt.Errorf("feature rubric %s: duplicate feature %q", path, f.Name)
		}
		seen[f.Name] = true

		tree, err := decision.NewTree(f.Root, f.Nodes)
		if err != nil {
			return nil, fmt.Errorf("feature %q: %w", f.Name, err)
		}
		features = append(features, Feature{Name: f.Name, Tree: tree})
	}

	return features, nil
}
