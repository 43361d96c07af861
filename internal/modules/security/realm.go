package security

import "slices"

// RealmData describes the enrollment of the installed system in a realm.
type RealmData struct {
	Name             string
	DiscoverOptions  []string
	JoinOptions      []string
	Discovered       bool
	RequiredPackages []string
}

// Clone returns a deep copy, tasks never share slices with the module.
func (r RealmData) Clone() RealmData {
	r.DiscoverOptions = slices.Clone(r.DiscoverOptions)
	r.JoinOptions = slices.Clone(r.JoinOptions)
	r.RequiredPackages = slices.Clone(r.RequiredPackages)
	return r
}
