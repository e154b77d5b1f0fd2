package service

import (
	"sort"

	"github.com/agromap/server/internal/parcels"
)

// parcelHash mixes seed and parcel index with splitmix64.
func parcelHash(seed uint64, index int) uint64 {
	z := seed + uint64(index)*0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// deterministicSample returns k parcels chosen uniformly by the k smallest
// hashes, in ascending index order. The same input and seed always yield the
// same subset.
func deterministicSample(ps []*parcels.Parcel, k int, seed uint64) []*parcels.Parcel {
	if k <= 0 {
		return []*parcels.Parcel{}
	}
	if k >= len(ps) {
		return ps
	}

	type ranked struct {
		hash uint64
		p    *parcels.Parcel
	}
	r := make([]ranked, len(ps))
	for i, p := range ps {
		r[i] = ranked{hash: parcelHash(seed, p.Index), p: p}
	}
	sort.Slice(r, func(i, j int) bool {
		if r[i].hash != r[j].hash {
			return r[i].hash < r[j].hash
		}
		return r[i].p.Index < r[j].p.Index
	})

	out := make([]*parcels.Parcel, k)
	for i := range out {
		out[i] = r[i].p
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
