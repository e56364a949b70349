// internal/ranked/catalog.go
package ranked

import (
	"sort"

	"github.com/gosimple/slug"
)

// Catalog resolves free text to a canonical name. Lookups are keyed by slug,
// so "pokemon stadium 2", "Pokémon Stadium 2" and "POKEMON-STADIUM-2" agree.
type Catalog struct {
	canonical map[string]string
}

// NewCatalog indexes names under their own slug.
func NewCatalog(names ...string) *Catalog {
	c := &Catalog{canonical: make(map[string]string, len(names))}
	for _, n := range names {
		c.canonical[slug.Make(n)] = n
	}
	return c
}

// Alias makes alias resolve to canonical, which must already be known.
func (c *Catalog) Alias(alias, canonical string) *Catalog {
	if name, ok := c.canonical[slug.Make(canonical)]; ok {
		c.canonical[slug.Make(alias)] = name
	}
	return c
}

func (c *Catalog) Resolve(text string) (string, bool) {
	name, ok := c.canonical[slug.Make(text)]
	return name, ok
}

// Names returns the canonical names, sorted.
func (c *Catalog) Names() []string {
	seen := make(map[string]struct{}, len(c.canonical))
	out := make([]string, 0, len(c.canonical))
	for _, n := range c.canonical {
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

var (
	DefaultStarters = []string{
		"Battlefield",
		"Small Battlefield",
		"Final Destination",
		"Pokémon Stadium 2",
		"Smashville",
	}
	DefaultCounterpicks = []string{
		"Town and City",
		"Kalos Pokémon League",
		"Hollow Bastion",
		"Yoshi's Story",
	}
)

// StageCatalog indexes the given stages and the usual short names.
func StageCatalog(stages ...[]string) *Catalog {
	var all []string
	for _, s := range stages {
		all = append(all, s...)
	}
	return NewCatalog(all...).
		Alias("bf", "Battlefield").
		Alias("sbf", "Small Battlefield").
		Alias("fd", "Final Destination").
		Alias("ps2", "Pokémon Stadium 2").
		Alias("sv", "Smashville").
		Alias("tnc", "Town and City").
		Alias("kalos", "Kalos Pokémon League").
		Alias("hb", "Hollow Bastion").
		Alias("ys", "Yoshi's Story")
}

// CharacterCatalog is the playable roster.
func CharacterCatalog() *Catalog {
	return NewCatalog(
		"Mario", "Donkey Kong", "Link", "Samus", "Dark Samus", "Yoshi", "Kirby",
		"Fox", "Pikachu", "Luigi", "Ness", "Captain Falcon", "Jigglypuff",
		"Peach", "Daisy", "Bowser", "Ice Climbers", "Sheik", "Zelda",
		"Dr. Mario", "Pichu", "Falco", "Marth", "Lucina", "Young Link",
		"Ganondorf", "Mewtwo", "Roy", "Chrom", "Mr. Game & Watch", "Meta Knight",
		"Pit", "Dark Pit", "Zero Suit Samus", "Wario", "Snake", "Ike",
		"Pokémon Trainer", "Diddy Kong", "Lucas", "Sonic", "King Dedede",
		"Olimar", "Lucario", "R.O.B.", "Toon Link", "Wolf", "Villager",
		"Mega Man", "Wii Fit Trainer", "Rosalina & Luma", "Little Mac",
		"Greninja", "Mii Brawler", "Mii Swordfighter", "Mii Gunner", "Palutena",
		"Pac-Man", "Robin", "Shulk", "Bowser Jr.", "Duck Hunt", "Ryu", "Ken",
		"Cloud", "Corrin", "Bayonetta", "Inkling", "Ridley", "Simon", "Richter",
		"King K. Rool", "Isabelle", "Incineroar", "Piranha Plant", "Joker",
		"Hero", "Banjo & Kazooie", "Terry", "Byleth", "Min Min", "Steve",
		"Sephiroth", "Pyra & Mythra", "Kazuya", "Sora",
	).
		Alias("dk", "Donkey Kong").
		Alias("falcon", "Captain Falcon").
		Alias("puff", "Jigglypuff").
		Alias("doc", "Dr. Mario").
		Alias("gnw", "Mr. Game & Watch").
		Alias("mk", "Meta Knight").
		Alias("zss", "Zero Suit Samus").
		Alias("pt", "Pokémon Trainer").
		Alias("ddd", "King Dedede").
		Alias("rob", "R.O.B.").
		Alias("tink", "Toon Link").
		Alias("wft", "Wii Fit Trainer").
		Alias("rosa", "Rosalina & Luma").
		Alias("krool", "King K. Rool").
		Alias("banjo", "Banjo & Kazooie").
		Alias("aegis", "Pyra & Mythra")
}
