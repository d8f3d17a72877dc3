// Package gitignore implements gitignore pattern matching per the syntax
// documented at https://git-scm.com/docs/gitignore.
//
// The indexing walk consults a Ruleset so that files a repository already
// excludes from version control never reach the chunker. Nested .gitignore
// files are supported via per-base rules:
//
//	rs := gitignore.New()
//	rs.AddFile("/repo/.gitignore", "")
//	rs.AddFile("/repo/src/.gitignore", "src")
//	if rs.Ignored("src/gen/out.log", false) {
//	    // skipped
//	}
package gitignore
