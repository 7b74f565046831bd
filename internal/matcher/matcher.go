// Package matcher implements the offer filter predicate and the raid
// capacity calculations it depends on.
package matcher

import (
	"strings"

	"hetzner_bot/internal/model"
)

// Minimum group sizes for building a raid pool.
const (
	raid5MinDisks = 3
	raid6MinDisks = 4
)

// RaidCapacity returns the usable post-raid capacity in GB of the best
// pool buildable from a single hdd disk group. A pool is always built
// from one homogeneous group, never across mixed groups. Returns 0 when
// no group has enough disks for the requested mode.
func RaidCapacity(disks []model.DiskGroup, mode model.RaidMode) int {
	var minDisks, parity int
	switch mode {
	case model.Raid5:
		minDisks, parity = raid5MinDisks, 1
	case model.Raid6:
		minDisks, parity = raid6MinDisks, 2
	default:
		return TotalCapacity(disks, model.DiskHDD)
	}

	best := 0
	for _, g := range disks {
		if g.Type != model.DiskHDD || g.Amount < minDisks {
			continue
		}
		if capacity := g.Size * (g.Amount - parity); capacity > best {
			best = capacity
		}
	}
	return best
}

// TotalCapacity sums the raw capacity in GB of all groups of one disk type.
func TotalCapacity(disks []model.DiskGroup, diskType model.DiskType) int {
	total := 0
	for _, g := range disks {
		if g.Type == diskType {
			total += g.Size * g.Amount
		}
	}
	return total
}

// Match reports whether an offer satisfies every configured criterion of a
// subscriber. Zero-valued thresholds impose no constraint. The cpus map
// holds benchmark reference data; offers whose processor has no entry pass
// the benchmark gate, they are flagged for data entry elsewhere.
func Match(offer model.Offer, sub model.Subscriber, cpus map[string]model.CPU) bool {
	if offer.Deactivated {
		return false
	}
	if sub.Price > 0 && offer.Price > sub.Price*100 {
		return false
	}
	if offer.RAM < sub.RAM {
		return false
	}

	if sub.HDDCount > 0 || sub.HDDSize > 0 {
		if !hasHDDGroup(offer.Disks, sub.HDDSize, sub.HDDCount) {
			return false
		}
	}

	if (sub.Raid == model.Raid5 || sub.Raid == model.Raid6) && sub.AfterRaid > 0 {
		if RaidCapacity(offer.Disks, sub.Raid) < sub.AfterRaid {
			return false
		}
	}

	if sub.Datacenter != "" && !strings.HasPrefix(offer.Datacenter, sub.Datacenter) {
		return false
	}

	if sub.ECC && !offer.ECC {
		return false
	}
	if sub.INic && !offer.INic {
		return false
	}
	if sub.HWR && !offer.HWR {
		return false
	}
	if sub.IPv4 && !offer.IPv4 {
		return false
	}

	if cpu, ok := cpus[offer.CPU]; ok {
		if cpu.Threads < sub.Threads ||
			cpu.ReleaseDate < sub.ReleaseDate ||
			cpu.MultiRating < sub.MultiRating ||
			cpu.SingleRating < sub.SingleRating {
			return false
		}
	}

	return true
}

func hasHDDGroup(disks []model.DiskGroup, minSize, minAmount int) bool {
	for _, g := range disks {
		if g.Type == model.DiskHDD && g.Size >= minSize && g.Amount >= minAmount {
			return true
		}
	}
	return false
}

// MatchingOfferIDs filters the active offer set for one subscriber and
// returns the ids of the matching offers.
func MatchingOfferIDs(offers []model.Offer, sub model.Subscriber, cpus map[string]model.CPU) []int64 {
	var ids []int64
	for _, offer := range offers {
		if Match(offer, sub, cpus) {
			ids = append(ids, offer.ID)
		}
	}
	return ids
}
