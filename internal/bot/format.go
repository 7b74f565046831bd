package bot

import (
	"fmt"
	"strings"

	"hetzner_bot/internal/matcher"
	"hetzner_bot/internal/model"
)

const (
	// MaxMessageLength is Telegram's maximum message size in characters.
	MaxMessageLength = 4096
	// MaxChunks caps how many messages one delivery may produce. Anything
	// beyond is reported as overflow instead of being sent.
	MaxChunks = 5

	chunkSeparator = "\n\n"
)

// FormatOffers renders a subscriber's match relations into sendable
// message chunks. Relations already notified are skipped unless
// includeNotified is set. The returned ids are the offers whose rendering
// actually made it into a chunk; only those may be flagged as notified.
func FormatOffers(sub *model.Subscriber, matches []model.MatchedOffer, cpus map[string]model.CPU, includeNotified bool) (chunks []string, includedIDs []int64, overflow bool) {
	var blocks []string
	var ids []int64
	for _, m := range matches {
		if m.Notified && !includeNotified {
			continue
		}
		blocks = append(blocks, FormatOffer(m, sub, cpus))
		ids = append(ids, m.Offer.ID)
	}
	if len(blocks) == 0 {
		return nil, nil, false
	}

	chunks, consumed, overflow := SplitChunks(blocks, MaxMessageLength, MaxChunks)
	return chunks, ids[:consumed], overflow
}

// FormatOffer renders one matched offer as a Markdown block.
func FormatOffer(m model.MatchedOffer, sub *model.Subscriber, cpus map[string]model.CPU) string {
	offer := m.Offer

	status := "(Price change)"
	if m.IsNew {
		status = "(New)"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*Offer %d %s:* [ %s ]", offer.ID, status, offer.LastUpdate.Format("02.01 - 15:04"))

	if cpu, ok := cpus[offer.CPU]; ok {
		fmt.Fprintf(&b, "\n_Cpu:_ %s (%d)", cpu.Name, cpu.ReleaseDate)
		fmt.Fprintf(&b, "\n    - *%d* threads", cpu.Threads)
		fmt.Fprintf(&b, "\n    - Multi: *%d*", cpu.MultiRating)
		fmt.Fprintf(&b, "\n    - Single: *%d*", cpu.SingleRating)
	} else {
		fmt.Fprintf(&b, "\n_Cpu:_ %s", offer.CPU)
	}

	fmt.Fprintf(&b, "\n_Ram:_ *%d GB*", offer.RAM)

	b.WriteString("\n_Disks:_")
	for _, g := range offer.Disks {
		fmt.Fprintf(&b, "\n    - %dx *%s* %s", g.Amount, formatSize(g.Size), diskTypeName(g.Type))
	}

	switch sub.Raid {
	case model.Raid5, model.Raid6:
		pool := matcher.RaidCapacity(offer.Disks, sub.Raid)
		poolString := "n/a"
		if pool > 0 {
			poolString = formatSize(pool)
		}
		fmt.Fprintf(&b, "\n_%s capacity:_ *%s*", raidLabel(sub.Raid), poolString)
	}

	fmt.Fprintf(&b, "\n_Extra features:_ *%s*", formatFeatures(offer))
	fmt.Fprintf(&b, "\n_Price:_ %.2f€ (VAT incl.: %.2f€)",
		float64(offer.Price)/100, float64(offer.Price)*1.19/100)
	fmt.Fprintf(&b, "\n_Datacenter:_ %s", offer.Datacenter)

	return b.String()
}

// SplitChunks greedily packs rendered blocks into chunks of at most maxLen
// characters without ever splitting a block. It stops once maxChunks are
// full and reports how many blocks were consumed plus whether content was
// left over.
func SplitChunks(blocks []string, maxLen, maxChunks int) (chunks []string, consumed int, overflow bool) {
	var current []string
	length := 0

	for i, block := range blocks {
		if len(current) > 0 && length+len(block)+len(chunkSeparator) >= maxLen {
			chunks = append(chunks, strings.Join(current, chunkSeparator))
			if len(chunks) == maxChunks {
				return chunks, i, true
			}
			current = current[:0]
			length = 0
		}
		current = append(current, block)
		length += len(block) + len(chunkSeparator)
	}

	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, chunkSeparator))
	}
	return chunks, len(blocks), false
}

func formatFeatures(offer model.Offer) string {
	var features []string
	if offer.IPv4 {
		features = append(features, "IPv4")
	}
	if offer.ECC {
		features = append(features, "ECC")
	}
	if offer.INic {
		features = append(features, "iNIC")
	}
	if offer.HWR {
		features = append(features, "HWR")
	}
	if len(features) == 0 {
		return "None"
	}
	return strings.Join(features, " ")
}

func diskTypeName(t model.DiskType) string {
	switch t {
	case model.DiskSATA:
		return "SSD (Sata)"
	case model.DiskNVMe:
		return "SSD (NVMe)"
	default:
		return "HDD"
	}
}

func raidLabel(mode model.RaidMode) string {
	if mode == model.Raid6 {
		return "Raid6"
	}
	return "Raid5"
}

func formatSize(sizeGB int) string {
	if sizeGB < 1000 {
		return fmt.Sprintf("%d GB", sizeGB)
	}
	return fmt.Sprintf("%g TB", float64(sizeGB)/1000)
}

// FormatSubscriberInfo renders the current filter configuration.
func FormatSubscriberInfo(sub *model.Subscriber) string {
	raid := "None"
	if sub.Raid != model.RaidNone {
		raid = string(sub.Raid)
	}
	datacenter := "None"
	if sub.Datacenter != "" {
		datacenter = sub.Datacenter
	}

	var b strings.Builder
	fmt.Fprintf(&b, "hdd_count: %d\n", sub.HDDCount)
	fmt.Fprintf(&b, "hdd_size: %d GB\n", sub.HDDSize)
	fmt.Fprintf(&b, "raid: %s\n", raid)
	fmt.Fprintf(&b, "after_raid: %d GB\n", sub.AfterRaid)
	fmt.Fprintf(&b, "datacenter: %s\n", datacenter)
	fmt.Fprintf(&b, "ram: %d GB\n", sub.RAM)
	fmt.Fprintf(&b, "price: %d Euro\n", sub.Price)
	fmt.Fprintf(&b, "ecc: %s\n", formatBool(sub.ECC))
	fmt.Fprintf(&b, "inic: %s\n", formatBool(sub.INic))
	fmt.Fprintf(&b, "hwr: %s\n", formatBool(sub.HWR))
	fmt.Fprintf(&b, "ipv4: %s\n", formatBool(sub.IPv4))
	fmt.Fprintf(&b, "threads: %d\n", sub.Threads)
	fmt.Fprintf(&b, "release_date: %d\n", sub.ReleaseDate)
	fmt.Fprintf(&b, "multi_rating: %d\n", sub.MultiRating)
	fmt.Fprintf(&b, "single_rating: %d", sub.SingleRating)
	return b.String()
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
