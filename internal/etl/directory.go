package etl

import (
	"context"
	"strconv"
	"time"

	"github.com/dp-cuteam/yclients-heatmap/internal/cache"
	"github.com/dp-cuteam/yclients-heatmap/internal/schedule"
	"github.com/dp-cuteam/yclients-heatmap/internal/yclients"
)

// directoryTTL bounds how long staff lists and company names are reused
// within and across runs.
const directoryTTL = 10 * time.Minute

// Directory adapts the scheduling API client to the resolver's
// StaffDirectory with a TTL cache in front, so a multi-branch run does not
// refetch the same lists.
type Directory struct {
	client    *yclients.Client
	staff     *cache.Cache[[]schedule.StaffMember]
	companies *cache.Cache[map[int64]string]
}

// NewDirectory wraps an API client.
func NewDirectory(client *yclients.Client) *Directory {
	return &Directory{
		client:    client,
		staff:     cache.New[[]schedule.StaffMember](directoryTTL),
		companies: cache.New[map[int64]string](directoryTTL),
	}
}

// Staff returns the branch staff list.
func (d *Directory) Staff(ctx context.Context, branchID int64) ([]schedule.StaffMember, error) {
	key := strconv.FormatInt(branchID, 10)
	if members, ok := d.staff.Get(key); ok {
		return members, nil
	}
	raw, err := d.client.GetStaff(ctx, branchID)
	if err != nil {
		return nil, err
	}
	members := make([]schedule.StaffMember, 0, len(raw))
	for _, s := range raw {
		members = append(members, schedule.StaffMember{ID: s.ID, Name: s.Name})
	}
	d.staff.Set(key, members)
	return members, nil
}

// CompanyNames returns the id → title map of companies visible to the
// token.
func (d *Directory) CompanyNames(ctx context.Context) (map[int64]string, error) {
	if names, ok := d.companies.Get("all"); ok {
		return names, nil
	}
	companies, err := d.client.GetCompanies(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(companies))
	for _, c := range companies {
		if c.Title != "" {
			names[c.ID] = c.Title
		}
	}
	d.companies.Set("all", names)
	return names, nil
}

var _ schedule.StaffDirectory = (*Directory)(nil)
