package module

import (
	"cmp"
	"slices"
)

const RequirementPackage = "package"

// Requirement is something the installed system needs because of a module
// configuration, typically a package.
type Requirement struct {
	Type   string
	Name   string
	Reason string
}

func ForPackage(name, reason string) Requirement {
	return Requirement{
		Type:   RequirementPackage,
		Name:   name,
		Reason: reason,
	}
}

// SortRequirements orders reqs by type and name and drops duplicates of the
// same type and name, keeping the first reason.
func SortRequirements(reqs []Requirement) []Requirement {
	ret := slices.Clone(reqs)
	slices.SortStableFunc(ret, func(a, b Requirement) int {
		return cmp.Or(cmp.Compare(a.Type, b.Type), cmp.Compare(a.Name, b.Name))
	})
	return slices.CompactFunc(ret, func(a, b Requirement) bool {
		return a.Type == b.Type && a.Name == b.Name
	})
}
