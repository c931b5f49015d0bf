// Package rbac resolves what a principal is allowed to do in the portal.
//
// # Overview
//
// Authorization is profile based. A profile ("perfil") is a named bundle of
// permission tokens, optionally tied to a functional area of the Tribunal.
// Principals receive profiles through assignments, and their effective
// permission set is the union of every assigned profile. Administrators are
// designated separately, in admin_roles, and satisfy every permission check
// regardless of assignments.
//
// # Permissions
//
// Tokens come from a closed catalog (see AllPermissions):
//
//	process.*         processos: view, create, edit, delete, assign, archive
//	visto.*           fiscalização preventiva: view, analyze, decide
//	accounts.*        prestação de contas: view, review
//	fine.*            multas: view, create, approve
//	audit.*           auditorias: view, plan, execute
//	report.*          relatórios: view, create, validate, export
//	correspondence.*  correspondência interna: view, send
//	user.*, profile.manage, session.*   administration
//
// Writing a profile or loading a catalog with an unknown token fails with
// ErrUnknownPermission. Unknown tokens already stored in the database are
// dropped with a warning when read.
//
// # Resolution
//
// Resolver.Resolve produces Capabilities:
//
//	caps, err := resolver.Resolve(ctx, principalID)
//	if caps.HasPermission(rbac.PermVistoDecide) {
//	    // ...
//	}
//
// Assignments and the admin flag are fetched concurrently. Concurrent
// resolutions for one principal share a single query. Results are cached in
// process (expirable LRU) and, when configured, in Redis so replicas share
// them. No cached value is used once it is older than the TTL, whichever tier
// it came from.
//
// A failed resolution returns an unresolved value: every predicate is false
// and callers must treat it as "still loading", never as a grant or a denial.
//
// Invalidate drops one principal (login, logout, token refresh, assignment
// changes). Refresh bypasses the cache for checks that cannot accept data up
// to one TTL old. Purge clears everything (catalog reloads).
//
// # Catalog
//
// Profiles can be declared in YAML and seeded at startup:
//
//	functional_areas:
//	  - Fiscalização Preventiva
//	profiles:
//	  - name: tecnico-visto
//	    functional_area: Fiscalização Preventiva
//	    permissions: [process.view, visto.view, visto.analyze]
//	admins:
//	  - 2b0c6a4e-8f0e-4d5c-9a51-3f1f6a1c0b7e
//
// CatalogWatcher reapplies the file when it changes and purges the resolver.
//
// # Schema
//
// Migrations returns the functional_areas, profiles, profile_assignments and
// admin_roles tables. Store queries use $n placeholders and run on PostgreSQL
// and SQLite.
package rbac
