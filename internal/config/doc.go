// Package config provides the configuration of keyharvest.
// It defines the crawl tunables, the browser and site settings, account
// and proxy policies, and the YAML configuration file that supplies the
// account and proxy inventory.
package config
