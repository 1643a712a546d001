// Package resolver finds the real artifact filename for a Firefox release by
// scraping the upstream directory listing, reusing cached resolutions while
// they are inside the splay window.
package resolver
