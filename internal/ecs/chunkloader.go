package ecs

import "sort"

// DiscCoords returns every ChunkCoord within radius r of center (inclusive,
// Chebyshev/square disc: a (2r+1)x(2r+1) square — 81 chunks at radius 4,
// since (2*4+1)^2 = 81), ordered by ascending Euclidean distance from
// center so the streaming sender can walk it center-outward.
func DiscCoords(center ChunkCoord, r int32) []ChunkCoord {
	if r < 0 {
		return nil
	}
	coords := make([]ChunkCoord, 0, (2*r+1)*(2*r+1))
	for dx := -r; dx <= r; dx++ {
		for dz := -r; dz <= r; dz++ {
			coords = append(coords, ChunkCoord{X: center.X + dx, Z: center.Z + dz})
		}
	}
	sort.Slice(coords, func(i, j int) bool {
		return distSq(center, coords[i]) < distSq(center, coords[j])
	})
	return coords
}

func distSq(a, b ChunkCoord) int64 {
	dx := int64(a.X - b.X)
	dz := int64(a.Z - b.Z)
	return dx*dx + dz*dz
}

// discSet builds a lookup set for O(1) membership tests.
func discSet(coords []ChunkCoord) map[ChunkCoord]struct{} {
	set := make(map[ChunkCoord]struct{}, len(coords))
	for _, c := range coords {
		set[c] = struct{}{}
	}
	return set
}

// Recenter recomputes the loader's pending queue for a new center/radius,
// returning the coords of the old disc that fall outside the new disc (to
// evict) and the
// coords newly inside the new disc (to stream), symmetric for both
// movement and radius-change cases.
func (l *ChunkLoader) Recenter(newCenter ChunkCoord, newRadius int32) (evicted, added []ChunkCoord) {
	oldCoords := DiscCoords(l.Center, l.Radius)
	newCoords := DiscCoords(newCenter, newRadius)
	oldSet := discSet(oldCoords)
	newSet := discSet(newCoords)

	if !l.initialized {
		l.Center, l.Radius = newCenter, newRadius
		l.initialized = true
		l.pending = append([]ChunkCoord(nil), newCoords...)
		l.caughtUpAt = false
		return nil, newCoords
	}

	for _, c := range oldCoords {
		if _, ok := newSet[c]; !ok {
			evicted = append(evicted, c)
		}
	}
	for _, c := range newCoords {
		if _, ok := oldSet[c]; !ok {
			added = append(added, c)
		}
	}

	stillPending := l.pending[:0]
	for _, c := range l.pending {
		if _, ok := newSet[c]; ok {
			stillPending = append(stillPending, c)
		}
	}
	l.pending = append(stillPending, added...)

	l.Center, l.Radius = newCenter, newRadius
	if len(added) > 0 {
		l.caughtUpAt = false
	}
	return evicted, added
}

// PopPending pops up to k coords from the front of the pending queue for
// the per-tick sender.
func (l *ChunkLoader) PopPending(k int) []ChunkCoord {
	if k > len(l.pending) {
		k = len(l.pending)
	}
	out := l.pending[:k]
	l.pending = l.pending[k:]
	return out
}

// PendingLen reports how many coords remain queued.
func (l *ChunkLoader) PendingLen() int { return len(l.pending) }

// JustCaughtUp reports whether the pending queue just became empty: when it
// does, a final NetworkChunkPublisherUpdate is sent, and this fires at most
// once per emptiness.
func (l *ChunkLoader) JustCaughtUp() bool {
	if len(l.pending) == 0 && !l.caughtUpAt {
		l.caughtUpAt = true
		return true
	}
	return false
}
