package worldsync

import (
	"math"
	"sync"

	. "github.com/anacrolix/generics"
	"github.com/dannyzb/worldsync/chunkmodel"
)

const tau = 2 * math.Pi

// DurabilityEntry describes how much a material resists an explosion
// ray: min_tier is the weakest hardness tier that can punch through it
// at all, cost_per_pixel is how much ray energy it consumes per pixel
// traversed.
type DurabilityEntry struct {
	MinTier      uint8
	CostPerPixel uint32
}

// SetNiceTerraforming toggles whether terraform calls also edit the
// inbound/outbound copies of a chunk alongside chunk_storage. The
// terraform operators only act on chunks present in chunk_storage,
// which only a host holds: on the host, chunk_storage is always edited
// and this flag decides whether the in-flight copies are edited too;
// on a non-host peer the operators leave both models unchanged
// whatever this flag says.
func (m *WorldManager) SetNiceTerraforming(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.niceTerraforming = v
}

// SetDurabilities installs the material -> (min_tier, cost) table the
// explosion raycaster consults.
func (m *WorldManager) SetDurabilities(d map[uint16]DurabilityEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.durabilities = d
}

func floorDivI32(a, b int32) int32 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// loadTerraformChunk decodes coord's pixel content from chunk_storage
// (preferred source of truth for terraforming, which is host-owned
// data) into chunk, and separately reports whether inbound/outbound
// copies exist so the caller can mirror the edit into them under
// nice_terraforming. A chunk absent from chunk_storage is never
// touched, regardless of mode.
func (m *WorldManager) loadTerraformChunk(coord chunkmodel.ChunkCoord) (chunk, chunkIn, chunkOut chunkmodel.Chunk, hasIn, hasOut, ok bool) {
	if cd, present := m.chunkStorage[coord]; present {
		cd.ApplyToChunk(&chunk)
	} else {
		return chunk, chunkIn, chunkOut, false, false, false
	}
	if m.niceTerraforming {
		if cd, present := m.inbound.GetChunkData(coord); present {
			hasIn = true
			cd.ApplyToChunk(&chunkIn)
		}
		if cd, present := m.outbound.GetChunkData(coord); present {
			hasOut = true
			cd.ApplyToChunk(&chunkOut)
		}
	}
	return chunk, chunkIn, chunkOut, hasIn, hasOut, true
}

func (m *WorldManager) storeTerraformChunk(coord chunkmodel.ChunkCoord, chunk, chunkIn, chunkOut chunkmodel.Chunk, hasIn, hasOut bool) {
	if m.isHost {
		m.chunkStorage[coord] = chunk.ToChunkData()
	}
	switch {
	case hasIn:
		m.inbound.ApplyChunkData(coord, chunkIn.ToChunkData())
	case hasOut:
		m.inbound.ApplyChunkData(coord, chunkOut.ToChunkData())
	}
	if hasOut {
		m.outbound.ApplyChunkData(coord, chunkOut.ToChunkData())
	}
}

// CutThroughWorldCircle clears a disc of pixels of radius r centered
// on (cx, cy), optionally restricted to a single material (mat.Ok).
func (m *WorldManager) CutThroughWorldCircle(cx, cy, r int32, mat Option[uint16]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cutCircleLocked(cx, cy, r, mat)
}

func (m *WorldManager) cutCircleLocked(cx, cy, r int32, mat Option[uint16]) {
	if !m.isHost && !m.niceTerraforming {
		return
	}
	const s = chunkmodel.CHUNK_SIZE
	minCx, maxCx := floorDivI32(cx-r, s), floorDivI32(cx+r, s)
	minCy, maxCy := floorDivI32(cy-r, s), floorDivI32(cy+r, s)
	centerCx, centerCy := floorDivI32(cx, s), floorDivI32(cy, s)

	for chunkX := minCx; chunkX <= maxCx; chunkX++ {
		for chunkY := minCy; chunkY <= maxCy; chunkY++ {
			if r > s {
				closeX := chunkX*s + s - 1
				if chunkX < centerCx {
					closeX = chunkX*s + s - 1
				} else if chunkX > centerCx {
					closeX = chunkX * s
				} else {
					closeX = cx
				}
				closeY := chunkY * s
				if chunkY < centerCy {
					closeY = chunkY*s + s - 1
				} else if chunkY > centerCy {
					closeY = chunkY * s
				} else {
					closeY = cy
				}
				dx, dy := closeX-cx, closeY-cy
				if dx*dx+dy*dy > r*r {
					continue
				}
			}

			coord := chunkmodel.ChunkCoord{X: chunkX, Y: chunkY}
			chunk, chunkIn, chunkOut, hasIn, hasOut, ok := m.loadTerraformChunk(coord)
			if !ok {
				continue
			}
			startX, startY := chunkX*s, chunkY*s
			touched := false
			for icx := int32(0); icx < s; icx++ {
				px := startX + icx
				dx := px - cx
				dd := dx * dx
				for icy := int32(0); icy < s; icy++ {
					py := startY + icy
					dy := py - cy
					if dd+dy*dy > r*r {
						continue
					}
					idx := int(icy)*s + int(icx)
					cur := chunk.Pixel(idx)
					if cur.Material == 0 {
						continue
					}
					if mat.Ok && cur.Material != mat.Value {
						continue
					}
					touched = true
					chunk.SetPixel(idx, chunkmodel.AirPixel)
					if hasIn {
						chunkIn.SetPixel(idx, chunkmodel.AirPixel)
					}
					if hasOut {
						chunkOut.SetPixel(idx, chunkmodel.AirPixel)
					}
				}
			}
			if touched || hasIn || hasOut {
				m.storeTerraformChunk(coord, chunk, chunkIn, chunkOut, hasIn, hasOut)
			}
		}
	}
}

// CutThroughWorld applies the sinusoidal-wiggle vertical cut used by a
// specific gameplay event. It only ever touches host storage.
func (m *WorldManager) CutThroughWorld(x, yMin, yMax, radius int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	const s = chunkmodel.CHUNK_SIZE
	const maxWiggle = 5
	const interval = 300.0

	clipLo := x - radius - maxWiggle - s
	clipHi := x + radius + maxWiggle
	cutLo := x - radius
	cutHi := x + radius

	for coord, data := range m.chunkStorage {
		startX := coord.X * s
		if startX < clipLo || startX > clipHi {
			continue
		}
		startY := coord.Y * s
		var chunk chunkmodel.Chunk
		data.ApplyToChunk(&chunk)
		touched := false
		for inY := int32(0); inY < s; inY++ {
			globalY := inY + startY
			if globalY < yMin || globalY > yMax {
				continue
			}
			wiggle := int32(-math.Cos(float64(globalY)/interval*tau) * maxWiggle)
			lo := clampI32(cutLo-startX+wiggle, 0, s-1)
			hi := clampI32(cutHi-startX+wiggle, 0, s)
			for inX := lo; inX < hi; inX++ {
				chunk.SetPixel(int(inY)*s+int(inX), chunkmodel.AirPixel)
				touched = true
			}
		}
		if touched {
			m.chunkStorage[coord] = chunk.ToChunkData()
		}
	}
}

func clampI32(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// CutThroughWorldLine clears a capsule (line segment + radius r) of
// pixels between (x1,y1) and (x2,y2). The degenerate zero-length case
// delegates to the circle operator.
func (m *WorldManager) CutThroughWorldLine(x1, y1, x2, y2, r int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.isHost && !m.niceTerraforming {
		return
	}
	dmx, dmy := x2-x1, y2-y1
	if dmx == 0 && dmy == 0 {
		m.cutCircleLocked(x1, y1, r, Option[uint16]{})
		return
	}
	const s = chunkmodel.CHUNK_SIZE
	var minCx, maxCx, minCy, maxCy int32
	if x1 < x2 {
		minCx, maxCx = floorDivI32(x1-r, s), floorDivI32(x2+r, s)
	} else {
		minCx, maxCx = floorDivI32(x2-r, s), floorDivI32(x1+r, s)
	}
	if y1 < y2 {
		minCy, maxCy = floorDivI32(y1-r, s), floorDivI32(y2+r, s)
	} else {
		minCy, maxCy = floorDivI32(y2-r, s), floorDivI32(y1+r, s)
	}

	dm2 := 1.0 / float64(dmx*dmx+dmy*dmy)
	closeCheck := maxCx == minCx || maxCy == minCy
	endpoints := [8][2]int32{
		{x1 + r, y1}, {x1 - r, y1}, {x1, y1 + r}, {x1, y1 - r},
		{x2 + r, y2}, {x2 - r, y2}, {x2, y2 + r}, {x2, y2 - r},
	}

	segDistSq := func(px, py int32) int64 {
		dcx, dcy := px-x1, py-y1
		mt := clampF(float64(dcx*dmx+dcy*dmy)*dm2, 0, 1)
		dx := float64(dcx) - mt*float64(dmx)
		dy := float64(dcy) - mt*float64(dmy)
		return int64(dx*dx + dy*dy)
	}

	for chunkX := minCx; chunkX <= maxCx; chunkX++ {
		for chunkY := minCy; chunkY <= maxCy; chunkY++ {
			startX, startY := chunkX*s, chunkY*s
			endX, endY := startX+s-1, startY+s-1
			visit := closeCheck
			if !visit {
				corners := [4][2]int32{{startX, startY}, {endX, endY}, {endX, startY}, {startX, endY}}
				for _, c := range corners {
					if segDistSq(c[0], c[1]) <= int64(r)*int64(r) {
						visit = true
						break
					}
				}
			}
			if !visit {
				for _, p := range endpoints {
					if endX >= p[0] && p[0] >= startX && endY >= p[1] && p[1] >= startY {
						visit = true
						break
					}
				}
			}
			if !visit {
				continue
			}

			coord := chunkmodel.ChunkCoord{X: chunkX, Y: chunkY}
			chunk, chunkIn, chunkOut, hasIn, hasOut, ok := m.loadTerraformChunk(coord)
			if !ok {
				continue
			}
			touched := false
			rr := int64(r) * int64(r)
			for icx := int32(0); icx < s; icx++ {
				for icy := int32(0); icy < s; icy++ {
					if segDistSq(startX+icx, startY+icy) > rr {
						continue
					}
					idx := int(icy)*s + int(icx)
					touched = true
					if m.isHost {
						chunk.SetPixel(idx, chunkmodel.AirPixel)
					}
					if hasIn {
						chunkIn.SetPixel(idx, chunkmodel.AirPixel)
					}
					if hasOut {
						chunkOut.SetPixel(idx, chunkmodel.AirPixel)
					}
				}
			}
			if touched {
				m.storeTerraformChunk(coord, chunk, chunkIn, chunkOut, hasIn, hasOut)
			}
		}
	}
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// doRay walks Bresenham from (x,y) towards (endX,endY), consuming ray
// energy per pixel per the durability table, and returns the last
// coordinate it could still occupy. Source precedence per step:
// outbound model, else inbound model, else host storage (§9's
// resolution of the do_ray source-precedence open question).
func (m *WorldManager) doRay(x, y, endX, endY int32, energy uint32, tier uint8, mult float64) (int32, int32, bool) {
	const s = chunkmodel.CHUNK_SIZE
	dx := absInt32(endX - x)
	dy := absInt32(endY - y)
	if dx == 0 && dy == 0 {
		return 0, 0, false
	}
	sx, sy := int32(1), int32(1)
	if x >= endX {
		sx = -1
	}
	if y >= endY {
		sy = -1
	}
	var err int32
	if dx > dy {
		err = dx / 2
	} else {
		err = -dy / 2
	}

	lastCo := chunkmodel.ChunkCoord{X: floorDivI32(x, s), Y: floorDivI32(y, s)}
	working, ok := m.rayChunkAt(lastCo)
	if !ok {
		return 0, 0, false
	}

	var lastX, lastY int32
	haveLast := false

	for x != endX || y != endY {
		co := chunkmodel.ChunkCoord{X: floorDivI32(x, s), Y: floorDivI32(y, s)}
		if co != lastCo {
			c, ok := m.rayChunkAt(co)
			if !ok {
				return lastX, lastY, haveLast
			}
			working = c
			lastCo = co
		}

		icx := floorModI32(x, s)
		icy := floorModI32(y, s)
		px := working.Pixel(int(icy)*s + int(icx))
		if stats, ok := m.durabilities[px.Material]; ok {
			h := uint32(float64(stats.CostPerPixel) * mult)
			if stats.MinTier > tier || energy < h {
				return lastX, lastY, haveLast
			}
			energy -= h
		}

		lastX, lastY, haveLast = x, y, true
		e2 := err
		if e2 > -dx {
			err -= dy
			x += sx
		}
		if e2 < dy {
			err += dx
			y += sy
		}
	}
	return x, y, true
}

func floorModI32(a, b int32) int32 {
	mv := a % b
	if mv != 0 && ((mv < 0) != (b < 0)) {
		mv += b
	}
	return mv
}

func (m *WorldManager) rayChunkAt(coord chunkmodel.ChunkCoord) (chunkmodel.Chunk, bool) {
	if cd, ok := m.outbound.GetChunkData(coord); ok {
		var c chunkmodel.Chunk
		cd.ApplyToChunk(&c)
		return c, true
	}
	if cd, ok := m.inbound.GetChunkData(coord); ok {
		var c chunkmodel.Chunk
		cd.ApplyToChunk(&c)
		return c, true
	}
	if cd, ok := m.chunkStorage[coord]; ok {
		var c chunkmodel.Chunk
		cd.ApplyToChunk(&c)
		return c, true
	}
	return chunkmodel.Chunk{}, false
}

// CutThroughWorldExplosion fans a raycast explosion of radius r and
// hardness tier tier out across rays parallel goroutines, each an
// immutable read over the three models, then clears pixels per-ray
// reach.
func (m *WorldManager) CutThroughWorldExplosion(x, y int32, r uint32, tier uint8, energy uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rays := clampU32(nextPow2(r), 8, 256)
	t := tau / float64(rays)
	reach := make([]int64, rays)

	var wg sync.WaitGroup
	wg.Add(int(rays))
	for n := uint32(0); n < rays; n++ {
		n := n
		go func() {
			defer wg.Done()
			theta := t * (float64(n) + 0.5)
			endX := x + int32(float64(r)*math.Cos(theta))
			endY := y + int32(float64(r)*math.Sin(theta))
			mult := 1 / math.Cos(math.Mod(theta+math.Pi/4, math.Pi/2)-math.Pi/4)
			ex, ey, ok := m.doRay(x, y, endX, endY, energy, tier, mult)
			if !ok {
				reach[n] = 0
				return
			}
			dx, dy := int64(ex-x), int64(ey-y)
			if dx == 0 && dy == 0 {
				reach[n] = 0
				return
			}
			reach[n] = dx*dx + dy*dy
		}()
	}
	wg.Wait()

	m.cutExplosionListLocked(x, y, rays, reach)
}

func clampU32(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func nextPow2(v uint32) uint32 {
	if v == 0 {
		return 1
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	return v + 1
}

func maxInt64(list []int64) int64 {
	var m int64
	for _, v := range list {
		if v > m {
			m = v
		}
	}
	return m
}

// cutExplosionListLocked clears the pixels each ray reached. Only
// chunks present in chunk_storage, and not already loaded into either
// live model, are touched — editing a chunk a peer already owns here
// would race with that peer's own authoritative edits.
func (m *WorldManager) cutExplosionListLocked(x, y int32, rays uint32, list []int64) {
	rs := maxInt64(list)
	r := int32(math.Ceil(math.Sqrt(float64(rs))))
	if r == 0 {
		return
	}
	const s = chunkmodel.CHUNK_SIZE
	minCx, maxCx := floorDivI32(x-r, s), floorDivI32(x+r, s)
	minCy, maxCy := floorDivI32(y-r, s), floorDivI32(y+r, s)
	centerCx, centerCy := floorDivI32(x, s), floorDivI32(y, s)

	bucketOf := func(dx, dy int32) uint32 {
		theta := math.Atan2(float64(dy), float64(dx))
		i := float64(rays) * theta / tau
		if i < 0 {
			i += float64(rays)
		}
		idx := uint32(i)
		if idx >= rays {
			idx = rays - 1
		}
		return idx
	}

	for chunkX := minCx; chunkX <= maxCx; chunkX++ {
		for chunkY := minCy; chunkY <= maxCy; chunkY++ {
			startX, startY := chunkX*s, chunkY*s
			closeX := startX
			if chunkX < centerCx {
				closeX = startX + s - 1
			}
			closeY := startY
			if chunkY < centerCy {
				closeY = startY + s - 1
			}
			var visit bool
			switch {
			case r <= s:
				visit = true
			case r >= 8*s:
				endX, endY := startX+s-1, startY+s-1
				adjY1, adjY2 := startY, endY
				if (chunkX < centerCx) == (chunkY < centerCy) {
					adjY1, adjY2 = endY, startY
				}
				lo, hi := bucketOf(startX-x, adjY1-y), bucketOf(endX-x, adjY2-y)
				if lo > hi {
					lo, hi = hi, lo
				}
				var bucketMax int64
				for b := lo; b <= hi; b++ {
					if list[b] > bucketMax {
						bucketMax = list[b]
					}
				}
				dx, dy := int64(closeX-x), int64(closeY-y)
				visit = dx*dx+dy*dy <= bucketMax
			default:
				dx, dy := int64(closeX-x), int64(closeY-y)
				visit = dx*dx+dy*dy <= rs
			}
			if !visit {
				continue
			}

			coord := chunkmodel.ChunkCoord{X: chunkX, Y: chunkY}
			if _, ok := m.outbound.GetChunkData(coord); ok {
				continue
			}
			if _, ok := m.inbound.GetChunkData(coord); ok {
				continue
			}
			cd, ok := m.chunkStorage[coord]
			if !ok {
				continue
			}
			var chunk chunkmodel.Chunk
			cd.ApplyToChunk(&chunk)
			touched := false
			for icx := int32(0); icx < s; icx++ {
				px := startX + icx
				dx := int64(px - x)
				dd := dx * dx
				for icy := int32(0); icy < s; icy++ {
					py := startY + icy
					dy := int64(py - y)
					bucket := bucketOf(px-x, py-y)
					if dd+dy*dy > list[bucket] {
						continue
					}
					chunk.SetPixel(int(icy)*s+int(icx), chunkmodel.AirPixel)
					touched = true
				}
			}
			if touched {
				m.chunkStorage[coord] = chunk.ToChunkData()
			}
		}
	}
}
