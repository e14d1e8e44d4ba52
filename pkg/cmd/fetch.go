package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/pkgmng/pkgmng/pkg/cache"
	"github.com/pkgmng/pkgmng/pkg/download"
	"github.com/pkgmng/pkgmng/pkg/manager"
	"github.com/pkgmng/pkgmng/pkg/manifest"
	"github.com/pkgmng/pkgmng/pkg/source"
)

func newFetchCmd() *cobra.Command {
	var (
		cacheDir    string
		name        string
		version     string
		gitTag      string
		githubRepo  string
		gitRepo     string
		archiveURL  string
		keepUpdated bool
		options     []string
		manifestLoc string
	)

	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch a package into the cache",
		Long: `Fetches one package (or a manifest of packages) into the cache directory.

A cached package is reused as long as its identity fields (version, tag,
repositories, url) are unchanged. Build options never affect the cache
identity.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = options // forwarded to the build system, never part of identity

			mgr := newManager(cacheDir)

			if manifestLoc != "" {
				mf, err := manifest.Load(manifestLoc)
				if err != nil {
					return err
				}
				reqs := make([]manager.Request, len(mf.Packages))
				for i, p := range mf.Packages {
					reqs[i] = manager.Request{Descriptor: p.Descriptor(), KeepUpdated: p.KeepUpdated}
				}
				return mgr.ProcessAll(cmd.Context(), reqs)
			}

			if name == "" {
				return errors.New("--name is required unless --manifest is given")
			}

			d := &cache.Descriptor{
				Name:             name,
				Version:          version,
				GitTag:           gitTag,
				GithubRepository: githubRepo,
				GitRepository:    gitRepo,
				URL:              archiveURL,
			}
			_, err := mgr.Process(cmd.Context(), d, keepUpdated)
			return err
		},
	}

	fetchCmd.Flags().StringVar(&cacheDir, "cache-dir", "", "cache root directory")
	fetchCmd.Flags().StringVar(&name, "name", "", "package name")
	fetchCmd.Flags().StringVar(&version, "version", "", "package version")
	fetchCmd.Flags().StringVar(&gitTag, "git-tag", "", "git tag or branch to pin")
	fetchCmd.Flags().StringVar(&githubRepo, "github-repository", "", "GitHub repository shorthand (owner/repo)")
	fetchCmd.Flags().StringVar(&gitRepo, "git-repository", "", "git repository URL")
	fetchCmd.Flags().StringVar(&archiveURL, "url", "", "archive download URL")
	fetchCmd.Flags().BoolVar(&keepUpdated, "keep-updated", false, "update a cached git package in place")
	fetchCmd.Flags().StringSliceVar(&options, "options", nil, "build options (excluded from cache identity)")
	fetchCmd.Flags().StringVar(&manifestLoc, "manifest", "", "YAML manifest of packages to fetch")
	_ = fetchCmd.MarkFlagRequired("cache-dir")

	return fetchCmd
}

// newManager wires the store and both acquirers from the resolved config.
func newManager(cacheDir string) *manager.Manager {
	store := cache.NewStore(cacheDir)
	dl := download.New(Log, Cfg.DownloadTimeout, Cfg.DownloadRetries, Cfg.DownloadChunkSize)
	git := source.NewGit(Log, source.GitTimeouts{
		Clone:     Cfg.CloneTimeout,
		Fetch:     Cfg.FetchTimeout,
		Reset:     Cfg.ResetTimeout,
		Submodule: Cfg.SubmoduleTimeout,
	})
	archive := source.NewArchive(dl, Log, cacheDir)
	return manager.New(store, git, archive, Log)
}
