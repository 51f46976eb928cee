package dispatch

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/taxiride/tripsim/internal/fleet"
)

const defaultRedisPrefix = "tripsim:fleet"

// lockScript marks a known taxi busy. It returns -1 for an unknown taxi,
// 0 if the taxi was already busy and 1 if it was locked now.
var lockScript = redis.NewScript(`
if redis.call('ZSCORE', KEYS[1], ARGV[1]) == false then
	return -1
end
return redis.call('SADD', KEYS[2], ARGV[1])
`)

// RedisTaxiStore keeps taxi positions in a GEO set and busy taxis in a
// plain set, so several dispatch replicas share one fleet.
type RedisTaxiStore struct {
	client  redis.UniversalClient
	geoKey  string
	busyKey string
}

// NewRedisTaxiStore creates a store under prefix (default "tripsim:fleet").
func NewRedisTaxiStore(client redis.UniversalClient, prefix string) *RedisTaxiStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisTaxiStore{
		client:  client,
		geoKey:  prefix + ":positions",
		busyKey: prefix + ":busy",
	}
}

// Seed adds taxis that are not yet known. Existing positions and busy
// flags are left alone so a restart does not free locked taxis.
func (s *RedisTaxiStore) Seed(ctx context.Context, taxis []fleet.Taxi) error {
	if len(taxis) == 0 {
		return nil
	}
	locations := make([]*redis.GeoLocation, len(taxis))
	for i, t := range taxis {
		locations[i] = &redis.GeoLocation{Name: t.ID, Longitude: t.Lng, Latitude: t.Lat}
	}

	pipe := s.client.Pipeline()
	for _, loc := range locations {
		pipe.ZScore(ctx, s.geoKey, loc.Name)
	}
	cmds, err := pipe.Exec(ctx)
	if err != nil && err != redis.Nil {
		return fmt.Errorf("checking fleet: %w", err)
	}

	var missing []*redis.GeoLocation
	for i, cmd := range cmds {
		if cmd.Err() == redis.Nil {
			missing = append(missing, locations[i])
		}
	}
	if len(missing) == 0 {
		return nil
	}
	if err := s.client.GeoAdd(ctx, s.geoKey, missing...).Err(); err != nil {
		return fmt.Errorf("seeding fleet: %w", err)
	}
	return nil
}

// List implements TaxiStore.
func (s *RedisTaxiStore) List(ctx context.Context) ([]fleet.Taxi, error) {
	ids, err := s.client.ZRange(ctx, s.geoKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing fleet: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	posCmd := pipe.GeoPos(ctx, s.geoKey, ids...)
	busyCmd := pipe.SMembers(ctx, s.busyKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("reading fleet: %w", err)
	}

	busy := make(map[string]bool)
	for _, id := range busyCmd.Val() {
		busy[id] = true
	}

	positions := posCmd.Val()
	taxis := make([]fleet.Taxi, 0, len(ids))
	for i, id := range ids {
		if i >= len(positions) || positions[i] == nil {
			continue
		}
		taxis = append(taxis, fleet.Taxi{
			ID:        id,
			Lat:       positions[i].Latitude,
			Lng:       positions[i].Longitude,
			Available: !busy[id],
		})
	}
	sort.Slice(taxis, func(i, j int) bool { return taxis[i].ID < taxis[j].ID })
	return taxis, nil
}

// Lock implements TaxiStore.
func (s *RedisTaxiStore) Lock(ctx context.Context, id string) (bool, error) {
	n, err := lockScript.Run(ctx, s.client, []string{s.geoKey, s.busyKey}, id).Int()
	if err != nil {
		return false, fmt.Errorf("locking taxi %s: %w", id, err)
	}
	return n == 1, nil
}

// Release implements TaxiStore.
func (s *RedisTaxiStore) Release(ctx context.Context, id string) error {
	if err := s.client.SRem(ctx, s.busyKey, id).Err(); err != nil {
		return fmt.Errorf("releasing taxi %s: %w", id, err)
	}
	return nil
}

// Reset implements TaxiStore.
func (s *RedisTaxiStore) Reset(ctx context.Context) error {
	if err := s.client.Del(ctx, s.busyKey).Err(); err != nil {
		return fmt.Errorf("resetting fleet: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (s *RedisTaxiStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
