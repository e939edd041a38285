package grants

import (
	"testing"

	"github.com/dominionrnd/crypto-licensing/core"
	"github.com/dominionrnd/crypto-licensing/test"
)

func author(service string) core.Author {
	return core.Author{Domain: service + ".example.com", Product: service, Service: service}
}

func TestResolveLeafOwnGrant(t *testing.T) {
	signed := core.SignedLicense{
		License: core.License{
			Author: author("acme"),
			Grant: map[string]core.Grant{
				"acme": {"seats": "10"},
			},
		},
	}
	got, err := Resolve(signed)
	test.AssertNotError(t, err, "Resolve failed")
	test.AssertEquals(t, got["acme"]["seats"], "10")
}

func TestResolveMergesDependencyGrants(t *testing.T) {
	dep := core.SignedLicense{
		License: core.License{
			Author: author("base"),
			Grant:  map[string]core.Grant{"base": {"seats": "5"}},
		},
	}
	parent := core.SignedLicense{
		License: core.License{
			Author:       author("acme"),
			Dependencies: []core.SignedLicense{dep},
			Grant: map[string]core.Grant{
				"acme": {"tier": "pro"},
			},
		},
	}
	got, err := Resolve(parent)
	test.AssertNotError(t, err, "Resolve failed")
	test.AssertEquals(t, got["base"]["seats"], "5")
	test.AssertEquals(t, got["acme"]["tier"], "pro")
}

func TestResolveOverrideNarrowsDependencyGrant(t *testing.T) {
	dep := core.SignedLicense{
		License: core.License{
			Author: author("base"),
			Grant: map[string]core.Grant{
				"base": {"seats": "50", "region": "any"},
			},
		},
	}
	parent := core.SignedLicense{
		License: core.License{
			Author:       author("acme"),
			Dependencies: []core.SignedLicense{dep},
			Grant: map[string]core.Grant{
				"acme": {},
				"base": {"override": map[string]interface{}{"seats": "5"}},
			},
		},
	}
	got, err := Resolve(parent)
	test.AssertNotError(t, err, "Resolve failed")
	test.AssertEquals(t, got["base"]["seats"], "5")
	test.AssertEquals(t, got["base"]["region"], "any")
}

func TestResolveDeclarationOrderLaterWins(t *testing.T) {
	depA := core.SignedLicense{
		License: core.License{Author: author("shared"), Grant: map[string]core.Grant{"shared": {"level": "A"}}},
	}
	depB := core.SignedLicense{
		License: core.License{Author: author("shared"), Grant: map[string]core.Grant{"shared": {"level": "B"}}},
	}
	parent := core.SignedLicense{
		License: core.License{
			Author:       author("acme"),
			Dependencies: []core.SignedLicense{depA, depB},
			Grant:        map[string]core.Grant{"acme": {}},
		},
	}
	got, err := Resolve(parent)
	test.AssertNotError(t, err, "Resolve failed")
	test.AssertEquals(t, got["shared"]["level"], "B")
}

func TestResolveIsPure(t *testing.T) {
	dep := core.SignedLicense{
		License: core.License{Author: author("base"), Grant: map[string]core.Grant{"base": {"seats": "5"}}},
	}
	parent := core.SignedLicense{
		License: core.License{
			Author:       author("acme"),
			Dependencies: []core.SignedLicense{dep},
			Grant:        map[string]core.Grant{"acme": {"tier": "pro"}},
		},
	}
	got1, err := Resolve(parent)
	test.AssertNotError(t, err, "Resolve failed")
	got2, err := Resolve(parent)
	test.AssertNotError(t, err, "Resolve failed")
	test.AssertDeepEquals(t, got1, got2)
}

func TestLeafPathsAndContainsPath(t *testing.T) {
	override := map[string]interface{}{
		"limits": map[string]interface{}{"seats": "5"},
	}
	paths := LeafPaths(override, "")
	test.AssertEquals(t, len(paths), 1)
	test.AssertEquals(t, paths[0], "limits.seats")

	base := map[string]interface{}{
		"limits": map[string]interface{}{"seats": "50"},
	}
	test.Assert(t, ContainsPath(base, "limits.seats"), "expected path to resolve")
	test.Assert(t, !ContainsPath(base, "limits.region"), "expected missing path to not resolve")
}
