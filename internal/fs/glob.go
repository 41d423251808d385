package fs

import (
	"context"
	"database/sql"
	"path"
	"strings"
)

// globToLike translates a restricted glob (only * and ? are special) into a
// SQL LIKE pattern plus its ESCAPE character. Literal %, _, and \ in the
// glob are escaped so they match themselves.
func globToLike(glob string) (pattern string, escape byte) {
	const esc = '\\'
	var b strings.Builder
	for i := 0; i < len(glob); i++ {
		switch c := glob[i]; c {
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		case '%', '_', esc:
			b.WriteByte(esc)
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), esc
}

// SearchResult is one match returned by Search.
type SearchResult struct {
	Path string
	Stat Stat
}

// Search walks the subtree rooted at path and returns every entry whose
// name matches the glob pattern (supporting * and ?).
func (f *FS) Search(ctx context.Context, root, pattern string) ([]SearchResult, error) {
	guard, err := f.sub.Readers.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer guard.Release()
	db := guard.DB()

	var rootIno int64
	if root == "/" {
		rootIno = RootIno
	} else {
		rootIno, err = f.resolve(ctx, db, root)
		if err != nil {
			return nil, err
		}
	}

	like, escape := globToLike(pattern)
	var results []SearchResult
	err = searchRecursive(ctx, db, root, rootIno, like, escape, &results)
	return results, err
}

func searchRecursive(ctx context.Context, db *sql.DB, dirPath string, dirIno int64, like string, escape byte, out *[]SearchResult) error {
	rows, err := db.QueryContext(ctx, `SELECT name, ino FROM fs_dentry WHERE parent_ino = ? ORDER BY name`, dirIno)
	if err != nil {
		return err
	}
	type child struct {
		name string
		ino  int64
	}
	var children []child
	for rows.Next() {
		var c child
		if err := rows.Scan(&c.name, &c.ino); err != nil {
			rows.Close()
			return err
		}
		children = append(children, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, c := range children {
		var matched int
		q := `SELECT CASE WHEN ? LIKE ? ESCAPE ? THEN 1 ELSE 0 END`
		if err := db.QueryRowContext(ctx, q, c.name, like, string(escape)).Scan(&matched); err != nil {
			return err
		}
		childPath := path.Join(dirPath, c.name)
		if matched == 1 {
			st, err := loadStat(ctx, db, c.ino)
			if err != nil {
				return err
			}
			*out = append(*out, SearchResult{Path: childPath, Stat: st})
		}
		st, err := loadStat(ctx, db, c.ino)
		if err != nil {
			return err
		}
		if st.IsDir() {
			if err := searchRecursive(ctx, db, childPath, c.ino, like, escape, out); err != nil {
				return err
			}
		}
	}
	return nil
}
