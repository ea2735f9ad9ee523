package validate

import (
	"fmt"

	"github.com/roach88/paramgraph/internal/param"
	"github.com/roach88/paramgraph/internal/resolve"
)

// AliasError reports an alias rule that cannot be used.
type AliasError struct {
	Alias  string
	Target string
	Reason string
}

func (e *AliasError) Error() string {
	return fmt.Sprintf("alias %q → %q: %s", e.Alias, e.Target, e.Reason)
}

// ValidateAliases checks every rule of aliases against snap, in alias order.
// A rule is rejected when its target is malformed, is itself an alias,
// resolves under no strategy, or when the alias would shadow a real path.
func ValidateAliases(snap *param.Snapshot, aliases resolve.AliasTable, opts ...Option) []*AliasError {
	o := options{fallback: resolve.DefaultFallback()}
	for _, opt := range opts {
		opt(&o)
	}
	plain := resolve.New(snap, resolve.WithFallback(o.fallback))

	var errs []*AliasError
	for _, alias := range aliases.Aliases() {
		target := aliases[alias]
		reject := func(reason string) {
			errs = append(errs, &AliasError{Alias: alias, Target: target, Reason: reason})
		}

		if _, err := param.ParsePath(target); err != nil {
			reject(err.Error())
			continue
		}
		if _, chained := aliases.Lookup(target); chained {
			reject("target is itself an alias; aliases are single-hop")
			continue
		}
		if p, err := param.ParsePath(alias); err == nil && snap != nil {
			if _, exists := snap.Lookup(p); exists {
				reject("alias shadows a snapshot parameter")
				continue
			}
		}
		if out := plain.ResolvePath(target); !out.Found {
			reject("target resolves under no strategy")
		}
	}
	return errs
}
