package downloads

import (
	"sort"
	"strings"
)

// Group is one row of the downloads overview: a series with its downloaded
// episodes rolled up, or a single movie. It is computed from the stored
// items at read time; nothing about grouping is persisted.
type Group struct {
	SeriesID     string   `json:"series_id,omitempty"`
	Name         string   `json:"name"`
	Episodes     int      `json:"episodes,omitempty"`
	RuntimeTicks int64    `json:"runtime_ticks"`
	Size         int64    `json:"size"`
	ItemIDs      []string `json:"item_ids"`
}

// Groups projects the downloaded items into the overview shape. Episodes of
// the same series collapse into one group; movies stand alone. Sources still
// carrying the in-flight suffix do not count.
func (c *Coordinator) Groups() ([]Group, error) {
	items, err := c.store.AllItems()
	if err != nil {
		return nil, err
	}

	bySeries := make(map[string]*Group)
	var groups []*Group

	for _, item := range items {
		size, ok, err := c.completedSize(item.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		if item.Kind == "episode" && item.SeriesID != "" {
			g, exists := bySeries[item.SeriesID]
			if !exists {
				g = &Group{SeriesID: item.SeriesID, Name: item.SeriesName}
				bySeries[item.SeriesID] = g
				groups = append(groups, g)
			}
			g.Episodes++
			g.RuntimeTicks += item.RuntimeTicks
			g.Size += size
			g.ItemIDs = append(g.ItemIDs, item.ID)
			continue
		}

		groups = append(groups, &Group{
			Name:         item.Name,
			RuntimeTicks: item.RuntimeTicks,
			Size:         size,
			ItemIDs:      []string{item.ID},
		})
	}

	sort.Slice(groups, func(i, j int) bool {
		return strings.ToLower(groups[i].Name) < strings.ToLower(groups[j].Name)
	})

	out := make([]Group, len(groups))
	for i, g := range groups {
		out[i] = *g
	}
	return out, nil
}

// completedSize returns the on-disk size of the item's finished local
// source, if it has one.
func (c *Coordinator) completedSize(itemID string) (int64, bool, error) {
	sources, err := c.store.GetSources(itemID)
	if err != nil {
		return 0, false, err
	}
	for _, src := range sources {
		if !strings.HasSuffix(src.Path, downloadSuffix) {
			return src.Size, true, nil
		}
	}
	return 0, false, nil
}
