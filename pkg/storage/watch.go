package storage

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"aec-rag-go/internal/provider"
	"aec-rag-go/pkg/log"

	"github.com/fsnotify/fsnotify"
)

// Watch 监听 LocalStore 目录树的变化并转换为 ObjectEvent，直到 ctx 结束。
// 新建的子目录会被自动加入监听。
func (s *LocalStore) Watch(ctx context.Context, onEvent func(provider.ObjectEvent)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	addTree := func(root string) error {
		return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return w.Add(path)
			}
			return nil
		})
	}
	if err := addTree(s.root); err != nil {
		return err
	}
	log.Infof("[LocalStore] 开始监听目录 %s", s.root)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warnf("[LocalStore] 文件监听出错: %v", err)
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name)[0] == '.' {
				continue
			}
			switch {
			case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
				onEvent(provider.ObjectEvent{URI: s.URIFor(ev.Name), Kind: provider.ObjectRemoved})
			case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
				fi, err := os.Stat(ev.Name)
				if err != nil {
					continue
				}
				if fi.IsDir() {
					if err := addTree(ev.Name); err != nil {
						log.Warnf("[LocalStore] 监听新目录 %s 失败: %v", ev.Name, err)
					}
					continue
				}
				onEvent(provider.ObjectEvent{URI: s.URIFor(ev.Name), Kind: provider.ObjectUpserted})
			}
		}
	}
}
