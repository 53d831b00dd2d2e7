package schedule

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dp-cuteam/yclients-heatmap/internal/logging"
)

// Group is a named set of staff members sharing a resource type, the unit
// of occupancy aggregation.
type Group struct {
	ID         string   `json:"group_id"`
	Name       string   `json:"name"`
	StaffNames []string `json:"staff_names,omitempty"`
	StaffIDs   []int64  `json:"staff_ids,omitempty"`
}

// BranchGroups holds the group definitions of one branch.
type BranchGroups struct {
	BranchID    int64   `json:"branch_id"`
	DisplayName string  `json:"display_name,omitempty"`
	Groups      []Group `json:"groups"`
}

// GroupConfig is the full multi-branch group configuration.
type GroupConfig struct {
	Branches []BranchGroups `json:"branches"`
}

// Branch returns the group definitions for a branch id, or false when the
// branch is not configured.
func (c GroupConfig) Branch(branchID int64) (BranchGroups, bool) {
	for _, b := range c.Branches {
		if b.BranchID == branchID {
			return b, true
		}
	}
	return BranchGroups{}, false
}

// LoadGroupConfig reads a group config file. Hand-edited files on Windows
// often carry a UTF-8 BOM, which is stripped before decoding.
func LoadGroupConfig(path string) (GroupConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return GroupConfig{}, fmt.Errorf("read group config: %w", err)
	}
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	var cfg GroupConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return GroupConfig{}, fmt.Errorf("parse group config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadGroupConfigPreferResolved loads the resolved config when it exists,
// falling back to the hand-maintained one.
func LoadGroupConfigPreferResolved(resolvedPath, configPath string) (GroupConfig, error) {
	if _, err := os.Stat(resolvedPath); err == nil {
		return LoadGroupConfig(resolvedPath)
	}
	return LoadGroupConfig(configPath)
}

// SaveGroupConfig writes the config as indented JSON.
func SaveGroupConfig(path string, cfg GroupConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write group config: %w", err)
	}
	return nil
}

// StaffMember is one entry of a branch staff list.
type StaffMember struct {
	ID   int64
	Name string
}

// StaffDirectory supplies staff lists and company names from the
// scheduling platform.
type StaffDirectory interface {
	Staff(ctx context.Context, branchID int64) ([]StaffMember, error)
	CompanyNames(ctx context.Context) (map[int64]string, error)
}

// ResolveStaffIDs matches each group's staff names against the branch staff
// list and fills in sorted, deduplicated staff ids. The match is exact on
// the trimmed name; ambiguous names take the first id and are logged, as
// are names with no match. Branch display names are refreshed from the
// companies list when empty. The input config is not modified.
func ResolveStaffIDs(ctx context.Context, cfg GroupConfig, dir StaffDirectory) (GroupConfig, error) {
	resolved := GroupConfig{Branches: make([]BranchGroups, len(cfg.Branches))}
	copy(resolved.Branches, cfg.Branches)

	companyNames, err := dir.CompanyNames(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("failed to load company names")
		companyNames = nil
	}

	for bi := range resolved.Branches {
		branch := &resolved.Branches[bi]
		if name, ok := companyNames[branch.BranchID]; ok {
			current := strings.TrimSpace(branch.DisplayName)
			if current == "" || current == fmt.Sprintf("%d", branch.BranchID) {
				branch.DisplayName = name
			}
		}

		staff, err := dir.Staff(ctx, branch.BranchID)
		if err != nil {
			return GroupConfig{}, fmt.Errorf("load staff for branch %d: %w", branch.BranchID, err)
		}
		byName := make(map[string][]int64, len(staff))
		for _, s := range staff {
			name := strings.TrimSpace(s.Name)
			if name == "" {
				continue
			}
			byName[name] = append(byName[name], s.ID)
		}

		groups := make([]Group, len(branch.Groups))
		copy(groups, branch.Groups)
		for gi := range groups {
			seen := make(map[int64]bool)
			var ids []int64
			for _, staffName := range groups[gi].StaffNames {
				matches := byName[strings.TrimSpace(staffName)]
				if len(matches) == 0 {
					logging.Warn().
						Str("staff_name", staffName).
						Int64("branch_id", branch.BranchID).
						Msg("no staff matched name")
					continue
				}
				if len(matches) > 1 {
					logging.Warn().
						Str("staff_name", staffName).
						Int64("branch_id", branch.BranchID).
						Msg("multiple staff matched name")
				}
				if !seen[matches[0]] {
					seen[matches[0]] = true
					ids = append(ids, matches[0])
				}
			}
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
			groups[gi].StaffIDs = ids
		}
		branch.Groups = groups
	}
	return resolved, nil
}

// NormalizeName lowercases and collapses whitespace for fuzzy group/branch
// name comparisons. The "ё" letter is folded to "е" because both spellings
// occur in hand-entered names.
func NormalizeName(value string) string {
	lowered := strings.ToLower(value)
	lowered = strings.ReplaceAll(lowered, "ё", "е")
	return strings.Join(strings.Fields(lowered), " ")
}

// GroupIDsByName returns the ids of a branch's groups whose name matches
// target under NormalizeName.
func GroupIDsByName(cfg GroupConfig, branchID int64, target string) []string {
	branch, ok := cfg.Branch(branchID)
	if !ok {
		return nil
	}
	want := NormalizeName(target)
	var ids []string
	for _, g := range branch.Groups {
		if NormalizeName(g.Name) == want && g.ID != "" {
			ids = append(ids, g.ID)
		}
	}
	return ids
}
