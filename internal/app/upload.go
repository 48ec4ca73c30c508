package app

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"cms-go/internal/cms"
	"cms-go/internal/fs"
)

// UploadOptions control UploadDirectory.
type UploadOptions struct {
	Recursive bool
	// ParentID, when set, becomes the parent of every created article and
	// its primary address prefixes theirs.
	ParentID string
	Editor   string
}

// UploadDirectory creates one file article per regular file under dir,
// skipping whatever the configured and .cmsignore patterns exclude.
// Returns the ids of the created articles in path order. It stops at the
// first failure; articles already created stay.
func (a *CMSApp) UploadDirectory(ctx context.Context, dir string, opts UploadOptions) ([]string, error) {
	a.op.Parameters = dir
	uploads, err := fs.FindUploads(dir, opts.Recursive, a.cfg.Upload.Ignore)
	if err != nil {
		return nil, err
	}

	var prefix string
	if opts.ParentID != "" {
		parent, err := a.manager.GetArticle(ctx, opts.ParentID)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return nil, &cms.NotFoundError{Kind: "article", ID: opts.ParentID}
		}
		prefix = parent.PrimaryAddress
	}

	ids := make([]string, 0, len(uploads))
	for _, u := range uploads {
		id, err := a.uploadFile(ctx, u, prefix, opts)
		if err != nil {
			return ids, fmt.Errorf("uploading %s: %w", u.RelativePath, err)
		}
		ids = append(ids, id)
	}
	a.logger.Info("directory uploaded", "dir", dir, "articles", len(ids))
	return ids, nil
}

func (a *CMSApp) uploadFile(ctx context.Context, u *fs.Upload, prefix string, opts UploadOptions) (string, error) {
	f, err := os.Open(u.Path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	name := path.Base(u.RelativePath)
	v := a.manager.NewArticle()
	v.SetTitle(strings.TrimSuffix(name, path.Ext(name)))
	v.SetFilename(name)
	v.SetFile(f)
	v.SetPublicationDate(u.ModTime)
	v.SetViewMode(cms.ViewModeViewable | cms.ViewModeFile)
	v.SetEditor(opts.Editor)
	v.SetReason("upload " + u.RelativePath)
	if addr := uploadAddress(prefix, u.RelativePath); addr != "" {
		v.SetAddresses(addr)
	}
	if opts.ParentID != "" {
		v.SetParents(opts.ParentID)
	}

	if err := a.manager.SaveArticleVersion(ctx, v); err != nil {
		return "", err
	}
	return v.ArticleID(), nil
}

// uploadAddress slugifies every segment of a relative path, dropping the
// extension of the last, and joins them under prefix.
func uploadAddress(prefix, relativePath string) string {
	rel := strings.TrimSuffix(relativePath, path.Ext(relativePath))
	var parts []string
	if prefix != "" {
		parts = append(parts, prefix)
	}
	for _, seg := range strings.Split(rel, "/") {
		if s := cms.Slugify(seg); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 || (prefix != "" && len(parts) == 1) {
		return ""
	}
	return strings.Join(parts, "/")
}
