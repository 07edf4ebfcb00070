package scraper

import "condoreconcile/config"

// BuildFactories turns the loaded site configs into the Factory map an
// Orchestrator dispatches on by scraper name; each Factory calls newScraper
// with its site's config. This repo never implements a real per-site
// scraper.
func BuildFactories(sites map[string]*config.SiteConfig, newScraper func(site *config.SiteConfig) Scraper) map[string]Factory {
	factories := make(map[string]Factory, len(sites))
	for id, site := range sites {
		site := site
		factories[id] = func() Scraper { return newScraper(site) }
	}
	return factories
}
