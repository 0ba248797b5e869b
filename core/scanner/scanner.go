// Package scanner walks autoscan directories on a timer or inotify events,
// diffing the filesystem against the stored catalog.
package scanner

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rjeczalik/notify"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/cadenza-av/cadenza/core/events"
	"github.com/cadenza-av/cadenza/core/metadata"
	"github.com/cadenza-av/cadenza/log"
	"github.com/cadenza-av/cadenza/model"
)

// Layout is the scripting-layout port: after a physical item is imported it
// may fan out virtual objects (by-artist, by-year trees). The core hands it
// the add/update primitives and stays blind to the script language.
type Layout interface {
	ProcessItem(ctx context.Context, ds model.DataStore, obj *model.Object) (*model.ChangedContainers, error)
}

// Scanner drives the configured autoscans. Timed scans run on a cron
// schedule, inotify scans react to filesystem events.
type Scanner struct {
	ds         model.DataStore
	bus        *events.Bus
	extractors *metadata.Registry
	layout     Layout

	cron      *cron.Cron
	cronIDs   map[int32]cron.EntryID
	notifyCh  chan notify.EventInfo
	cancelled chan struct{}

	mu      sync.Mutex
	running bool
}

func New(ds model.DataStore, bus *events.Bus, extractors *metadata.Registry, layout Layout) *Scanner {
	return &Scanner{
		ds:         ds,
		bus:        bus,
		extractors: extractors,
		layout:     layout,
		cron:       cron.New(),
		cronIDs:    map[int32]cron.EntryID{},
		cancelled:  make(chan struct{}),
	}
}

// Start schedules all persisted autoscans and begins watching inotify
// targets.
func (s *Scanner) Start(ctx context.Context) error {
	timed, err := s.ds.Autoscan(ctx).GetAll(model.ScanModeTimed)
	if err != nil {
		return err
	}
	for _, adir := range timed {
		s.scheduleTimed(ctx, adir)
	}
	s.cron.Start()

	watched, err := s.ds.Autoscan(ctx).GetAll(model.ScanModeINotify)
	if err != nil {
		return err
	}
	if len(watched) > 0 {
		s.notifyCh = make(chan notify.EventInfo, 64)
		for _, adir := range watched {
			target := adir.Location
			if adir.Recursive {
				target = filepath.Join(target, "...")
			}
			if err := notify.Watch(target, s.notifyCh,
				notify.Create, notify.Remove, notify.Rename, notify.Write); err != nil {
				log.Error(ctx, "Cannot watch autoscan directory", err, "location", adir.Location)
			}
		}
		go s.watchLoop(ctx)
	}

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	return nil
}

func (s *Scanner) scheduleTimed(ctx context.Context, adir *model.Autoscan) {
	interval := adir.Interval
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	id := s.cron.Schedule(cron.Every(interval), cron.FuncJob(func() {
		if err := s.ScanDirectory(ctx, adir); err != nil {
			log.Error(ctx, "Timed scan failed", err, "location", adir.Location)
		}
	}))
	s.cronIDs[adir.ID] = id
}

func (s *Scanner) watchLoop(ctx context.Context) {
	debounce := map[string]time.Time{}
	for {
		select {
		case <-s.cancelled:
			return
		case ev, ok := <-s.notifyCh:
			if !ok {
				return
			}
			dir := filepath.Dir(ev.Path())
			if last, seen := debounce[dir]; seen && time.Since(last) < time.Second {
				continue
			}
			debounce[dir] = time.Now()
			if err := s.scanOne(ctx, dir, false, false); err != nil {
				log.Error(ctx, "Inotify rescan failed", err, "dir", dir)
			}
		}
	}
}

// Stop cancels scheduled and watched scans. In-flight directories complete;
// cancellation happens at subdirectory boundaries to avoid partial index
// states.
func (s *Scanner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.cancelled)
	if s.notifyCh != nil {
		notify.Stop(s.notifyCh)
	}
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
}

func (s *Scanner) isCancelled() bool {
	select {
	case <-s.cancelled:
		return true
	default:
		return false
	}
}

// ScanDirectory walks one autoscan target, importing new and changed files
// and dropping rows whose file is gone. Files whose stored object is not
// older than the file's mtime are skipped; the autoscan's LastModified
// watermark is refreshed after a successful scan.
func (s *Scanner) ScanDirectory(ctx context.Context, adir *model.Autoscan) error {
	log.Info(ctx, "Scanning directory", "location", adir.Location, "recursive", adir.Recursive)
	err := s.scanOne(ctx, adir.Location, adir.Recursive, adir.Hidden)
	if err == nil {
		adir.LastModified = time.Now()
		if uerr := s.ds.Autoscan(ctx).Update(adir); uerr != nil {
			log.Warn(ctx, "Cannot update autoscan watermark", uerr, "location", adir.Location)
		}
	}
	return err
}

func (s *Scanner) scanOne(ctx context.Context, dir string, recursive, includeHidden bool) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	var errs *multierror.Error
	var subdirs []string
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(4)

	for _, entry := range entries {
		name := entry.Name()
		if !includeHidden && strings.HasPrefix(name, ".") {
			continue
		}
		full := filepath.Join(dir, name)
		if entry.IsDir() {
			subdirs = append(subdirs, full)
			continue
		}
		info, err := entry.Info()
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		group.Go(func() error {
			return s.importFile(groupCtx, full, info)
		})
	}
	if err := group.Wait(); err != nil {
		errs = multierror.Append(errs, err)
	}

	if err := s.removeVanished(ctx, dir); err != nil {
		errs = multierror.Append(errs, err)
	}

	if recursive {
		for _, sub := range subdirs {
			if s.isCancelled() {
				break
			}
			if err := s.scanOne(ctx, sub, true, includeHidden); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
	}
	return errs.ErrorOrNil()
}

// importFile adds or refreshes the catalog entry of one physical file and
// runs the layout over new imports.
func (s *Scanner) importFile(ctx context.Context, path string, info fs.FileInfo) error {
	objects := s.ds.Object(ctx)
	existing, err := objects.FindObjectByPath(path, true)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return err
	}
	if existing != nil && !existing.LastModified.Before(info.ModTime()) {
		return nil
	}

	obj := model.NewObject(model.ObjectTypeItem)
	obj.Location = path
	obj.Title = strings.TrimSuffix(info.Name(), filepath.Ext(info.Name()))
	obj.MimeType = metadata.MimeTypeByPath(path)
	obj.Class = metadata.ClassForMime(obj.MimeType)
	obj.LastModified = info.ModTime()

	res := model.NewResource(model.HandlerDefault, model.PurposeContent)
	res.SetAttribute(model.ResAttrProtocolInfo, model.RenderProtocolInfo(obj.MimeType))
	res.SetAttribute(model.ResAttrSize, strconv.FormatInt(info.Size(), 10))
	obj.AddResource(res)

	if err := s.extractors.Fill(obj); err != nil {
		log.Warn(ctx, "Metadata extraction failed", err, "path", path)
	}

	changed := &model.ChangedContainers{}
	if existing != nil {
		obj.ID = existing.ID
		obj.ParentID = existing.ParentID
		container, err := objects.UpdateObject(obj)
		if err != nil {
			return err
		}
		changed.UPnP = append(changed.UPnP, existing.ParentID)
		if container != model.InvalidObjectID {
			changed.UPnP = append(changed.UPnP, container)
		}
	} else {
		container, err := objects.AddObject(obj)
		if err != nil {
			return err
		}
		changed.UPnP = append(changed.UPnP, obj.ParentID)
		if container != model.InvalidObjectID {
			changed.UPnP = append(changed.UPnP, container)
		}
		if s.layout != nil && obj.ID != model.InvalidObjectID {
			layoutChanged, err := s.layout.ProcessItem(ctx, s.ds, obj)
			if err != nil {
				log.Warn(ctx, "Layout processing failed", err, "path", path)
			}
			changed.Add(layoutChanged)
		}
	}
	s.bus.ChangedContainersPublished(ctx, changed)
	return nil
}

// removeVanished drops catalog entries of files no longer present in dir.
func (s *Scanner) removeVanished(ctx context.Context, dir string) error {
	objects := s.ds.Object(ctx)
	container, err := objects.FindObjectByPath(dir, false)
	if errors.Is(err, model.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	children, err := objects.Browse(&model.BrowseParam{
		Parent: container,
		Flags:  model.BrowseDirectChildren | model.BrowseItems,
	})
	if err != nil {
		return err
	}
	var gone []int32
	for _, child := range children {
		if child.Location == "" {
			continue
		}
		if _, err := os.Stat(child.Location); errors.Is(err, fs.ErrNotExist) {
			gone = append(gone, child.ID)
		}
	}
	if len(gone) == 0 {
		return nil
	}
	log.Info(ctx, "Removing vanished items", "dir", dir, "count", len(gone))
	changed, err := objects.RemoveObjects(gone, true)
	if err != nil {
		return err
	}
	s.bus.ChangedContainersPublished(ctx, changed)
	return nil
}

