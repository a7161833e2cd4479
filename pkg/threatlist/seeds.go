package threatlist

// Builtin fallback data, used only when every remote source fails before a
// first snapshot exists. Deliberately small; the remote lists replace it on
// the first successful fetch.

// torExitSeed holds long-lived exit addresses from well-known Tor
// infrastructure blocks (torservers.net, Quintex, Calyx).
var torExitSeed = []string{
	"185.220.100.252",
	"185.220.100.253",
	"185.220.100.254",
	"185.220.100.255",
	"185.220.101.1",
	"185.220.101.2",
	"185.220.101.33",
	"185.220.102.1",
	"185.220.102.8",
	"185.220.103.4",
	"199.249.230.87",
	"204.8.156.142",
}

// vpnRangeSeed covers a few heavily used datacenter egress ranges where
// commercial VPN exits concentrate.
var vpnRangeSeed = []string{
	// DigitalOcean
	"104.131.0.0/16", "134.209.0.0/16", "138.68.0.0/16", "157.245.0.0/16",
	"159.65.0.0/16", "165.227.0.0/16", "167.99.0.0/16", "178.128.0.0/16",
	// Vultr
	"45.32.0.0/16", "45.76.0.0/16", "108.61.0.0/16", "149.28.0.0/16",
	// Linode
	"45.33.0.0/16", "45.79.0.0/16", "139.162.0.0/16", "172.104.0.0/15",
	// Hetzner
	"88.99.0.0/16", "95.216.0.0/14", "135.181.0.0/16", "168.119.0.0/16",
	// OVH
	"51.68.0.0/16", "51.83.0.0/16", "141.94.0.0/16", "145.239.0.0/16",
}
