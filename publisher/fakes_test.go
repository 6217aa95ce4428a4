package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"adsync/ads"
	"adsync/models"
	"adsync/services"
)

type fakeStore struct {
	mu          sync.Mutex
	settings    *models.AdSettings
	conn        *models.PlatformConnection
	approved    bool
	previewed   bool
	items       []models.InventoryItem
	objects     *models.ExternalAdObjects
	saves       int
	writes      int
	failWrites  map[int]bool
	publishedAt *time.Time
	lastError   string
}

func (f *fakeStore) GetAdSettings(context.Context, uuid.UUID) (*models.AdSettings, error) {
	return f.settings, nil
}

func (f *fakeStore) GetPlatformConnection(context.Context, uuid.UUID) (*models.PlatformConnection, error) {
	return f.conn, nil
}

func (f *fakeStore) HasApprovedTemplate(context.Context, uuid.UUID) (bool, error) {
	return f.approved, nil
}

func (f *fakeStore) HasPreview(context.Context, uuid.UUID) (bool, error) {
	return f.previewed, nil
}

func (f *fakeStore) RecentItemsWithDetails(_ context.Context, _ uuid.UUID, limit int) ([]models.InventoryItem, error) {
	if len(f.items) > limit {
		return f.items[:limit], nil
	}
	return f.items, nil
}

func (f *fakeStore) GetExternalAdObjects(context.Context, uuid.UUID) (*models.ExternalAdObjects, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		return nil, nil
	}
	copied := *f.objects
	return &copied, nil
}

func (f *fakeStore) UpsertExternalAdObjects(_ context.Context, objects *models.ExternalAdObjects) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.failWrites[f.writes] {
		return errors.New("conn busy")
	}
	copied := *objects
	f.objects = &copied
	f.saves++
	return nil
}

func (f *fakeStore) MarkAdSettingsPublished(_ context.Context, _ uuid.UUID, at time.Time) error {
	f.publishedAt = &at
	return nil
}

func (f *fakeStore) MarkAdSettingsError(_ context.Context, _ uuid.UUID, message string) error {
	f.lastError = message
	return nil
}

// failWrite makes the nth UpsertExternalAdObjects call fail, counting
// from 1.
func (f *fakeStore) failWrite(n int) {
	if f.failWrites == nil {
		f.failWrites = map[int]bool{}
	}
	f.failWrites[n] = true
}

type fixedBudget struct {
	budget *services.Budget
	err    error
}

func (b fixedBudget) Budget(context.Context, uuid.UUID) (*services.Budget, error) {
	return b.budget, b.err
}

// scriptedPlatform records every call and fails the ones listed in errs,
// consuming one error per call.
type scriptedPlatform struct {
	mu      sync.Mutex
	calls   []string
	specs   []ads.CampaignSpec
	adSets  []ads.AdSetSpec
	deleted []string
	created []string
	errs    map[string][]error
	seq     int
}

func newScriptedPlatform() *scriptedPlatform {
	return &scriptedPlatform{errs: map[string][]error{}}
}

func (p *scriptedPlatform) fail(call string, errs ...error) {
	p.errs[call] = append(p.errs[call], errs...)
}

func (p *scriptedPlatform) record(call string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
	if queued := p.errs[call]; len(queued) > 0 {
		p.errs[call] = queued[1:]
		if queued[0] != nil {
			return "", queued[0]
		}
	}
	p.seq++
	id := fmt.Sprintf("%s_%d", call, p.seq)
	p.created = append(p.created, id)
	return id, nil
}

func (p *scriptedPlatform) count(call string) int {
	n := 0
	for _, c := range p.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (p *scriptedPlatform) CreateCampaign(_ context.Context, _ string, spec ads.CampaignSpec) (string, error) {
	p.specs = append(p.specs, spec)
	return p.record("campaign")
}

func (p *scriptedPlatform) CreateAdSet(_ context.Context, _ string, spec ads.AdSetSpec) (string, error) {
	p.adSets = append(p.adSets, spec)
	return p.record("adset")
}

func (p *scriptedPlatform) CreateCreative(context.Context, string, ads.CreativeSpec) (string, error) {
	return p.record("creative")
}

func (p *scriptedPlatform) CreateAd(context.Context, string, ads.AdSpec) (string, error) {
	return p.record("ad")
}

func (p *scriptedPlatform) Delete(_ context.Context, id string) error {
	p.mu.Lock()
	p.deleted = append(p.deleted, id)
	p.mu.Unlock()
	_, err := p.record("delete")
	return err
}

func (p *scriptedPlatform) GetAccount(_ context.Context, accountID string) (*ads.Account, error) {
	if _, err := p.record("account"); err != nil {
		return nil, err
	}
	return &ads.Account{ID: accountID}, nil
}

// live returns the ids of kind that were created and not deleted.
func (p *scriptedPlatform) live(kind string) []string {
	deleted := map[string]bool{}
	for _, id := range p.deleted {
		deleted[id] = true
	}
	var out []string
	for _, id := range p.created {
		if !deleted[id] && strings.HasPrefix(id, kind+"_") {
			out = append(out, id)
		}
	}
	return out
}

func readyItem(t *testing.T, n int) models.InventoryItem {
	t.Helper()
	d := &models.CrawlDetailsV1{Currency: "SEK", Images: []string{"https://cdn.bilhallen.se/car.jpg"}}
	raw, err := d.Encode()
	require.NoError(t, err)
	return models.InventoryItem{
		ID:         uuid.New(),
		ExternalID: fmt.Sprintf("ext-%d", n),
		Title:      fmt.Sprintf("Volvo XC%d", n),
		URL:        fmt.Sprintf("https://bilhallen.se/bil/volvo-xc%d", n),
		Price:      249_900,
		Details:    raw,
	}
}

func readyStore(t *testing.T) *fakeStore {
	items := make([]models.InventoryItem, 5)
	for i := range items {
		items[i] = readyItem(t, i)
	}
	return &fakeStore{
		settings: &models.AdSettings{
			Status:  models.AdSettingsDraft,
			Country: "se",
			Geo:     models.GeoTargeting{Mode: models.GeoModeRegions, Regions: []string{"Stockholm"}},
			Formats: []string{"single_image"},
		},
		conn: &models.PlatformConnection{
			Status:      "active",
			AdAccountID: "1234567890",
			AccessToken: "EAAB-real-looking-token",
		},
		approved:  true,
		previewed: true,
		items:     items,
	}
}

func decodeMeta(t *testing.T, raw json.RawMessage) *models.PublishMetadataV1 {
	t.Helper()
	meta, ok := models.DecodePublishMetadata(raw)
	require.True(t, ok, "metadata should decode: %s", raw)
	return meta
}
