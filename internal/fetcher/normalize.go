package fetcher

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"hetzner_bot/internal/model"
)

// IPv4Surcharge is the monthly fee in cents for a primary IPv4 address,
// added to the net price of offers that include one.
const IPv4Surcharge = 170

// NormalizeAll converts a batch of raw records, dropping the ones that
// cannot be parsed.
func NormalizeAll(raw []map[string]any, log *slog.Logger) []model.Offer {
	offers := make([]model.Offer, 0, len(raw))
	for _, rec := range raw {
		offer, err := Normalize(rec)
		if err != nil {
			log.Warn("drop malformed offer record", "error", err)
			continue
		}
		offers = append(offers, offer)
	}
	return offers
}

// Normalize converts one raw upstream record into a canonical offer.
// Field values arrive in inconsistent shapes (numbers, numeric strings,
// "NN GB" strings), so every required field is coerced and validated.
func Normalize(raw map[string]any) (model.Offer, error) {
	var offer model.Offer

	key, err := intField(raw, "key", "id")
	if err != nil {
		return offer, err
	}
	offer.ID = key

	cpu, _ := raw["cpu"].(string)
	cpu = strings.TrimSpace(cpu)
	if cpu == "" {
		return offer, fmt.Errorf("offer %d: missing cpu", key)
	}
	offer.CPU = cpu

	ram, err := intField(raw, "ram_size", "ram")
	if err != nil {
		return offer, fmt.Errorf("offer %d: %w", key, err)
	}
	offer.RAM = int(ram)

	if dc, ok := raw["datacenter"].(string); ok {
		offer.Datacenter = strings.TrimSpace(dc)
	}

	offer.Disks, err = normalizeDisks(raw["serverDiskData"])
	if err != nil {
		return offer, fmt.Errorf("offer %d: %w", key, err)
	}

	specials := stringSlice(raw["specials"])
	offer.ECC = hasSpecial(specials, "ECC")
	offer.INic = hasSpecial(specials, "iNIC")
	offer.HWR = hasSpecial(specials, "HWR")
	offer.IPv4 = hasSpecial(specials, "IPv4")

	price, ok := floatValue(raw["price"])
	if !ok {
		return offer, fmt.Errorf("offer %d: missing or non-numeric price", key)
	}
	offer.Price = int(math.Round(price * 100))
	if offer.IPv4 {
		offer.Price += IPv4Surcharge
	}

	return offer, nil
}

// normalizeDisks flattens the per-technology size lists into coalesced
// disk groups. The "general" category repeats the specific ones and is
// skipped.
func normalizeDisks(v any) ([]model.DiskGroup, error) {
	categories, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("missing disk data")
	}

	var disks []model.DiskGroup
	for _, category := range []string{"hdd", "sata", "nvme"} {
		sizes, ok := categories[category]
		if !ok || sizes == nil {
			continue
		}
		diskType := diskTypeFor(category)
		list, ok := sizes.([]any)
		if !ok {
			return nil, fmt.Errorf("disk category %q is not a list", category)
		}
		for _, entry := range list {
			size, ok := floatValue(entry)
			if !ok {
				return nil, fmt.Errorf("non-numeric disk size in category %q", category)
			}
			disks = addDisk(disks, diskType, int(size))
		}
	}
	return disks, nil
}

// addDisk increments the amount of an existing (type, size) group or
// appends a new group with amount 1.
func addDisk(disks []model.DiskGroup, diskType model.DiskType, size int) []model.DiskGroup {
	for i := range disks {
		if disks[i].Type == diskType && disks[i].Size == size {
			disks[i].Amount++
			return disks
		}
	}
	return append(disks, model.DiskGroup{Type: diskType, Size: size, Amount: 1})
}

func diskTypeFor(category string) model.DiskType {
	switch category {
	case "sata":
		return model.DiskSATA
	case "nvme":
		return model.DiskNVMe
	default:
		return model.DiskHDD
	}
}

func hasSpecial(specials []string, marker string) bool {
	for _, s := range specials {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

func stringSlice(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, entry := range list {
		if s, ok := entry.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// intField returns the first of the named fields that holds an integer
// value, accepting numbers, numeric strings, and "NN GB"-style strings.
func intField(raw map[string]any, names ...string) (int64, error) {
	for _, name := range names {
		v, ok := raw[name]
		if !ok || v == nil {
			continue
		}
		if f, ok := floatValue(v); ok {
			return int64(f), nil
		}
		if s, ok := v.(string); ok {
			if n, err := leadingInt(s); err == nil {
				return n, nil
			}
		}
		return 0, fmt.Errorf("field %q is not numeric", name)
	}
	return 0, fmt.Errorf("missing field %q", names[0])
}

// leadingInt parses the leading integer token of strings like "64 GB".
func leadingInt(s string) (int64, error) {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty value")
	}
	return strconv.ParseInt(fields[0], 10, 64)
}

func floatValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
