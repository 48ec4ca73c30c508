package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"cms-go/internal/app"
	"cms-go/internal/cms"

	"github.com/spf13/cobra"
)

// article command
var articleCmd = &cobra.Command{
	Use:   "article",
	Short: "Create, edit and inspect articles",
}

var articlePutCmd = &cobra.Command{
	Use:   "put",
	Short: "Create an article, or save a new version with --id",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx := cmd.Context()
		id, _ := cmd.Flags().GetString("id")
		unlock, _ := cmd.Flags().GetBool("unlock")

		var upload *os.File
		if path, _ := cmd.Flags().GetString("file"); path != "" {
			upload, err = os.Open(path)
			if err != nil {
				return fmt.Errorf("opening file: %w", err)
			}
			defer upload.Close()
		}

		apply := func(v *cms.ArticleVersion) error {
			return applyFlags(cmd, v, upload)
		}

		a, err := newApp(ctx, "ArticlePut", false)
		if err != nil {
			return err
		}
		defer closeApp(a, &err)
		m := a.Manager()

		var v *cms.ArticleVersion
		switch {
		case id == "":
			v = m.NewArticle()
			if err := apply(v); err != nil {
				return err
			}
			if err := m.SaveArticleVersion(ctx, v); err != nil {
				return err
			}
		case unlock:
			v, err = m.Unlock(ctx, id)
			if err != nil {
				return err
			}
			if err := apply(v); err != nil {
				return err
			}
			if err := m.SaveArticleVersion(ctx, v); err != nil {
				return err
			}
		default:
			v, err = m.Edit(ctx, id, apply)
			if err != nil {
				return err
			}
		}

		fmt.Printf("Saved %s version %d\n", v.ArticleID(), v.VersionNumber())
		return nil
	},
}

// applyFlags copies the flags the user set onto v. Unset flags leave the
// carried-forward values alone.
func applyFlags(cmd *cobra.Command, v *cms.ArticleVersion, upload *os.File) error {
	f := cmd.Flags()
	if f.Changed("title") {
		s, _ := f.GetString("title")
		v.SetTitle(s)
	}
	if f.Changed("date") {
		s, _ := f.GetString("date")
		t, err := parseDate(s)
		if err != nil {
			return err
		}
		v.SetPublicationDate(t)
	}
	if f.Changed("text") {
		s, _ := f.GetString("text")
		v.SetText(s)
	}
	if f.Changed("text-file") {
		path, _ := f.GetString("text-file")
		b, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading text file: %w", err)
		}
		v.SetText(string(b))
	}
	if drop, _ := f.GetBool("clear-text"); drop {
		v.ClearText()
	}
	if upload != nil {
		// Edit may call us again after a conflict.
		if _, err := upload.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("rewinding file: %w", err)
		}
		v.SetFile(upload)
	}
	if drop, _ := f.GetBool("clear-file"); drop {
		v.ClearFile()
	}
	if f.Changed("filename") {
		s, _ := f.GetString("filename")
		v.SetFilename(s)
	}
	if f.Changed("address") {
		addrs, _ := f.GetStringSlice("address")
		v.SetAddresses(addrs...)
	}
	if f.Changed("primary") {
		s, _ := f.GetString("primary")
		v.SetPrimaryAddress(s)
	}
	if f.Changed("parent") {
		parents, _ := f.GetStringSlice("parent")
		v.SetParents(parents...)
	}
	if f.Changed("allow-children") {
		b, _ := f.GetBool("allow-children")
		v.SetAllowChildren(b)
	}
	if f.Changed("view-mode") {
		s, _ := f.GetString("view-mode")
		mode, err := cms.ParseViewMode(s)
		if err != nil {
			return err
		}
		v.SetViewMode(mode)
	}
	if f.Changed("editor") {
		s, _ := f.GetString("editor")
		v.SetEditor(s)
	}
	if f.Changed("reason") {
		s, _ := f.GetString("reason")
		v.SetReason(s)
	}
	return nil
}

// parseDate accepts RFC 3339 timestamps and plain dates.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: use YYYY-MM-DD or RFC 3339", s)
	}
	return t, nil
}

var articleShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show an article version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx := cmd.Context()
		number, _ := cmd.Flags().GetInt("version")

		a, err := newApp(ctx, "ArticleShow", false)
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		v, err := a.Manager().GetArticleVersion(ctx, args[0], number)
		if err != nil {
			return err
		}
		if v == nil {
			return &cms.NotFoundError{Kind: "version", ID: args[0] + "@" + strconv.Itoa(number)}
		}

		fmt.Printf("Article:     %s\n", v.ArticleID())
		fmt.Printf("Version:     %d (%s)\n", v.VersionNumber(), v.ID())
		fmt.Printf("Title:       %s\n", v.Title())
		fmt.Printf("Published:   %s\n", v.PublicationDate().Format(time.DateOnly))
		fmt.Printf("Addresses:   %v (primary %q)\n", v.Addresses(), v.PrimaryAddress())
		fmt.Printf("Parents:     %v\n", v.ParentArticleIDs())
		fmt.Printf("View Mode:   %s\n", v.ViewMode())
		fmt.Printf("Children:    %t\n", v.AllowChildren())
		fmt.Printf("Editor:      %s\n", v.EditorAccountID())
		if v.Reason() != "" {
			fmt.Printf("Reason:      %s\n", v.Reason())
		}
		if v.FileID() != 0 {
			fmt.Printf("File:        #%d %s\n", v.FileID(), v.Filename())
		}
		fmt.Printf("Saved:       %s\n", v.CreatedAt().Format("2006-01-02 15:04:05"))
		if text, ok := v.Text(); ok {
			fmt.Printf("\n%s\n", text)
		}
		return nil
	},
}

var articleLogCmd = &cobra.Command{
	Use:   "log ID",
	Short: "View the version history of an article",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx := cmd.Context()
		a, err := newApp(ctx, "ArticleLog", false)
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		versions, err := a.Manager().History(ctx, args[0])
		if err != nil {
			return err
		}
		for _, v := range versions {
			fmt.Printf("#%-4d  %s  %-12s  %-30s  %s\n",
				v.VersionNumber(),
				v.CreatedAt().Format("2006-01-02 15:04:05"),
				v.EditorAccountID(),
				v.Title(),
				v.Reason(),
			)
		}
		return nil
	},
}

var articleBrowseCmd = &cobra.Command{
	Use:   "browse",
	Short: "List articles",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx := cmd.Context()
		f := cmd.Flags()
		q := cms.ArticleQuery{}
		q.ParentID, _ = f.GetString("parent")
		q.Descendants, _ = f.GetBool("descendants")
		q.Descending, _ = f.GetBool("desc")
		q.Limit, _ = f.GetInt("limit")
		q.Offset, _ = f.GetInt("offset")
		sort, _ := f.GetString("sort")
		q.Sort = cms.SortKey(sort)

		a, err := newApp(ctx, "ArticleBrowse", false)
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		page, err := a.Manager().BrowseArticles(ctx, q)
		if err != nil {
			return err
		}
		if len(page.Items) == 0 {
			fmt.Println("No articles.")
			return nil
		}
		for _, art := range page.Items {
			fmt.Printf("%s  v%-3d  %s  %-24s  %s\n",
				art.ID,
				art.CurrentVersionNumber,
				art.PublicationDate.Format(time.DateOnly),
				art.PrimaryAddress,
				art.Title,
			)
		}
		if page.HasMore {
			fmt.Printf("... more after offset %d\n", q.Offset+len(page.Items))
		}
		return nil
	},
}

var articleFeedCmd = &cobra.Command{
	Use:   "feed",
	Short: "List recent versions across all articles",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx := cmd.Context()
		f := cmd.Flags()
		limit, _ := f.GetInt("limit")
		offset, _ := f.GetInt("offset")

		a, err := newApp(ctx, "ArticleFeed", false)
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		page, err := a.Manager().BrowseArticleVersions(ctx, cms.VersionQuery{
			Offset:     offset,
			Limit:      limit,
			Sort:       cms.SortCreated,
			Descending: true,
		})
		if err != nil {
			return err
		}
		for _, v := range page.Items {
			fmt.Printf("%s  %s  #%-3d  %s\n",
				v.CreatedAt().Format("2006-01-02 15:04:05"),
				v.ArticleID(),
				v.VersionNumber(),
				v.Title(),
			)
		}
		return nil
	},
}

var articleTreeCmd = &cobra.Command{
	Use:   "tree ID",
	Short: "Show where an article sits in the hierarchy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx := cmd.Context()
		a, err := newApp(ctx, "ArticleTree", false)
		if err != nil {
			return err
		}
		defer closeApp(a, &err)
		m := a.Manager()
		id := args[0]

		queries := []struct {
			label string
			fn    func() ([]string, error)
		}{
			{"Parents", func() ([]string, error) { return m.Parents(ctx, id) }},
			{"Children", func() ([]string, error) { return m.Children(ctx, id) }},
			{"Ancestors", func() ([]string, error) { return m.Ancestors(ctx, id) }},
			{"Descendants", func() ([]string, error) { return m.Descendants(ctx, id) }},
		}
		for _, q := range queries {
			ids, err := q.fn()
			if err != nil {
				return err
			}
			fmt.Printf("%-12s %v\n", q.label+":", ids)
		}
		return nil
	},
}

var articleDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete an article and all of its versions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx := cmd.Context()
		a, err := newApp(ctx, "ArticleDelete", false)
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		if err := a.Manager().DeleteArticle(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	},
}

// address command
var addressCmd = &cobra.Command{
	Use:   "address",
	Short: "Resolve addresses",
}

var addressLookupCmd = &cobra.Command{
	Use:   "lookup ADDRESS",
	Short: "Find the article bound to an address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx := cmd.Context()
		a, err := newApp(ctx, "AddressLookup", false)
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		art, err := a.Manager().GetArticleByAddress(ctx, args[0])
		if err != nil {
			return err
		}
		if art == nil {
			return &cms.NotFoundError{Kind: "address", ID: args[0]}
		}
		fmt.Printf("%s  v%d  %s\n", art.ID, art.CurrentVersionNumber, art.Title)
		return nil
	},
}

// file command
var fileCmd = &cobra.Command{
	Use:   "file",
	Short: "Read from the file pool",
}

var fileGetCmd = &cobra.Command{
	Use:   "get ID [DEST]",
	Short: "Write a pooled file to DEST or stdout",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx := cmd.Context()
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid file id %q", args[0])
		}

		a, err := newApp(ctx, "FileGet", true)
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		rc, ok, err := a.Manager().GetFile(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return &cms.NotFoundError{Kind: "file", ID: args[0]}
		}
		defer rc.Close()

		var w io.Writer = os.Stdout
		if len(args) == 2 {
			out, err := os.Create(args[1])
			if err != nil {
				return fmt.Errorf("creating %s: %w", args[1], err)
			}
			defer out.Close()
			w = out
		}
		if _, err := io.Copy(w, rc); err != nil {
			return fmt.Errorf("writing file: %w", err)
		}
		return nil
	},
}

var fileInfoCmd = &cobra.Command{
	Use:   "info ID",
	Short: "Show what the pool records about a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx := cmd.Context()
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid file id %q", args[0])
		}

		a, err := newApp(ctx, "FileInfo", false)
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		info, err := a.Manager().FileInfo(ctx, id)
		if err != nil {
			return err
		}
		if info == nil {
			return &cms.NotFoundError{Kind: "file", ID: args[0]}
		}
		fmt.Printf("Digest:    %s\n", info.Digest)
		fmt.Printf("Size:      %d\n", info.Size)
		fmt.Printf("Encrypted: %t\n", info.Encrypted)
		fmt.Printf("Stored:    %s\n", info.CreatedAt.Format("2006-01-02 15:04:05"))
		return nil
	},
}

func init() {
	f := articlePutCmd.Flags()
	f.String("id", "", "Article to edit; omit to create a new article")
	f.Bool("unlock", false, "Lift the lock on a locked article")
	f.String("title", "", "Title")
	f.String("date", "", "Publication date (YYYY-MM-DD or RFC 3339)")
	f.String("text", "", "Body text")
	f.String("text-file", "", "Read the body text from a file")
	f.Bool("clear-text", false, "Remove the body text")
	f.String("file", "", "Attach a file")
	f.Bool("clear-file", false, "Remove the attached file")
	f.String("filename", "", "Display name of the attached file")
	f.StringSlice("address", nil, "Addresses (repeatable, replaces the set)")
	f.String("primary", "", "Primary address")
	f.StringSlice("parent", nil, "Parent article ids (repeatable, replaces the set)")
	f.Bool("allow-children", false, "Allow other articles to name this one as parent")
	f.String("view-mode", "", "View mode flags, e.g. viewable|category")
	f.String("editor", "", "Editor account id")
	f.String("reason", "", "Reason for the change")
	articlePutCmd.MarkFlagsMutuallyExclusive("text", "text-file", "clear-text")
	articlePutCmd.MarkFlagsMutuallyExclusive("file", "clear-file")

	articleShowCmd.Flags().IntP("version", "v", 0, "Version number (0 for current)")

	bf := articleBrowseCmd.Flags()
	bf.String("parent", "", "Only children of this article")
	bf.Bool("descendants", false, "With --parent, include the whole subtree")
	bf.String("sort", string(cms.SortTitle), "Sort by title or date")
	bf.Bool("desc", false, "Sort descending")
	bf.IntP("limit", "n", cms.DefaultPageSize, "Page size")
	bf.Int("offset", 0, "Rows to skip")

	articleFeedCmd.Flags().IntP("limit", "n", cms.DefaultPageSize, "Page size")
	articleFeedCmd.Flags().Int("offset", 0, "Rows to skip")

	articleCmd.AddCommand(articlePutCmd)
	articleCmd.AddCommand(articleShowCmd)
	articleCmd.AddCommand(articleLogCmd)
	articleCmd.AddCommand(articleBrowseCmd)
	articleCmd.AddCommand(articleFeedCmd)
	articleCmd.AddCommand(articleTreeCmd)
	articleCmd.AddCommand(articleDeleteCmd)

	addressCmd.AddCommand(addressLookupCmd)

	fileCmd.AddCommand(fileGetCmd)
	fileCmd.AddCommand(fileInfoCmd)
}

var articleUploadCmd = &cobra.Command{
	Use:   "upload DIR",
	Short: "Create a file article for every file in a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx := cmd.Context()
		f := cmd.Flags()
		var opts app.UploadOptions
		opts.Recursive, _ = f.GetBool("recursive")
		opts.ParentID, _ = f.GetString("parent")
		opts.Editor, _ = f.GetString("editor")

		a, err := newApp(ctx, "ArticleUpload", false)
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		ids, err := a.UploadDirectory(ctx, args[0], opts)
		fmt.Printf("Created %d article(s)\n", len(ids))
		return err
	},
}

func init() {
	uf := articleUploadCmd.Flags()
	uf.BoolP("recursive", "r", false, "Recurse into subdirectories")
	uf.String("parent", "", "Parent article for the uploads")
	uf.String("editor", "", "Editor account id")
	articleCmd.AddCommand(articleUploadCmd)
}
