package datastore

import (
	"bufio"
	"context"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/nlpodyssey/gopickle/pickle"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/scenestore/config"
	"go.viam.com/scenestore/logging"
	"go.viam.com/scenestore/pointcloud"
	"go.viam.com/scenestore/session"
	"go.viam.com/scenestore/spatialmath"
)

// PosesFile is the name of the pose file inside a sequence root.
const PosesFile = "poses.txt"

// A Store loads and writes scene data through a Backend. A Store is not safe for concurrent use.
type Store struct {
	backend Backend
	// remote is set when backend is a RemoteBackend.
	remote  *RemoteBackend
	pcdType pointcloud.PCDType
	logger  logging.Logger
}

// An Option configures a Store.
type Option func(*Store)

// WithPCDType sets the encoding WritePointCloud uses for .pcd files.
func WithPCDType(t pointcloud.PCDType) Option {
	return func(s *Store) {
		s.pcdType = t
	}
}

func newStore(backend Backend, logger logging.Logger, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		pcdType: pointcloud.PCDCompressed,
		logger:  logger,
	}
	if remote, ok := backend.(*RemoteBackend); ok {
		s.remote = remote
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewLocal returns a store over the local disk.
func NewLocal(logger logging.Logger, opts ...Option) *Store {
	return newStore(NewLocalBackend(), logger, opts...)
}

// NewRemote returns a store over a remote session. The store owns the session.
func NewRemote(sess *session.Session, logger logging.Logger, opts ...Option) *Store {
	return newStore(NewRemoteBackend(sess), logger.Sublogger("remote"), opts...)
}

// Open returns a remote store when conf has a remote section and a local one otherwise.
func Open(ctx context.Context, conf *config.Config, logger logging.Logger) (*Store, error) {
	opts := []Option{WithPCDType(conf.Dataset.PCDType())}
	if conf.Remote == nil {
		return NewLocal(logger, opts...), nil
	}
	sess, err := session.Dial(ctx, conf.Remote, logger)
	if err != nil {
		return nil, err
	}
	return NewRemote(sess, logger, opts...), nil
}

// Backend returns the backend of the store.
func (s *Store) Backend() Backend {
	return s.backend
}

// IsRemote returns whether the store reaches a remote host.
func (s *Store) IsRemote() bool {
	return s.remote != nil
}

// Join joins path elements with the separator of the backend.
func (s *Store) Join(elem ...string) string {
	if s.IsRemote() {
		return path.Join(elem...)
	}
	return filepath.Join(elem...)
}

// IsDirectory returns whether p is a directory. Failing checks are logged and answer false.
func (s *Store) IsDirectory(ctx context.Context, p string) bool {
	ok, err := s.backend.IsDirectory(ctx, p)
	if err != nil {
		s.logger.Warnw("cannot check directory", "path", p, "backend", s.backend.Name(), "error", err)
		return false
	}
	return ok
}

// MakeDirectory creates p and its parents unless it already exists.
func (s *Store) MakeDirectory(ctx context.Context, p string) error {
	if s.IsDirectory(ctx, p) {
		return nil
	}
	return errors.Wrapf(s.backend.MakeDirectory(ctx, p), "cannot create directory %q", p)
}

// CopyFile copies src to dst. A failed copy is logged and does not stop the caller, so it
// returns nothing.
func (s *Store) CopyFile(ctx context.Context, src, dst string) {
	if err := s.backend.CopyFile(ctx, src, dst); err != nil {
		s.logger.Errorw("copy file error", "src", src, "dst", dst, "backend", s.backend.Name(), "error", err)
	}
}

// ListDirectory returns the entry names of p in backend order.
func (s *Store) ListDirectory(ctx context.Context, p string) ([]string, error) {
	return s.backend.ListDirectory(ctx, p)
}

// Stat returns file info for p.
func (s *Store) Stat(ctx context.Context, p string) (os.FileInfo, error) {
	return s.backend.Stat(ctx, p)
}

// LoadPointCloud loads the point cloud stored at p into existing, or into a new cloud when
// existing is nil, and returns it.
//
// A missing file or an unreadable one leaves the cloud unchanged. Files with an extension that
// is not a point cloud format are passed over. Text files replace only the positions; every
// other attribute is cleared.
//
// On the local backend binary formats are cropped to roi when it is not nil. Remote loads are
// never cropped.
func (s *Store) LoadPointCloud(
	ctx context.Context,
	p string,
	existing *pointcloud.PointCloud,
	roi *pointcloud.RegionOfInterest,
) *pointcloud.PointCloud {
	cloud := existing
	if cloud == nil {
		cloud = pointcloud.New()
	}

	exists, err := s.backend.Exists(ctx, p)
	if err != nil {
		s.logger.Warnw("cannot check point cloud", "path", p, "backend", s.backend.Name(), "error", err)
		return cloud
	}
	if !exists {
		if s.IsRemote() {
			s.logger.Warnw("load point cloud error, no such file", "path", p, "backend", s.backend.Name())
		} else {
			s.logger.Debugw("no point cloud", "path", p)
		}
		return cloud
	}

	format := pointcloud.FormatFromPath(p)
	if format == pointcloud.FormatUnknown {
		s.logger.Debugw("not a point cloud file, skipping", "path", p)
		return cloud
	}
	loaded, err := s.readPointCloud(ctx, p, format)
	if err != nil {
		s.logger.Errorw("cannot decode point cloud", "path", p, "backend", s.backend.Name(), "error", err)
		return cloud
	}
	if format.IsBinary() && roi != nil && !s.IsRemote() {
		loaded.Crop(roi)
	}
	cloud.Replace(loaded)
	return cloud
}

func (s *Store) readPointCloud(ctx context.Context, p string, format pointcloud.Format) (*pointcloud.PointCloud, error) {
	if format == pointcloud.FormatLAS {
		return s.readLAS(ctx, p)
	}
	r, err := s.backend.OpenRead(ctx, p)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(r.Close)
	return pointcloud.Read(bufio.NewReader(r), format)
}

// readLAS reads a LAS file, staging it in a local temporary file first when it is remote.
func (s *Store) readLAS(ctx context.Context, p string) (*pointcloud.PointCloud, error) {
	if !s.IsRemote() {
		return pointcloud.ReadLAS(p, s.logger)
	}
	staged, err := s.stageDownload(ctx, p)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(func() error { return os.Remove(staged) })
	return pointcloud.ReadLAS(staged, s.logger)
}

func (s *Store) stageDownload(ctx context.Context, p string) (staged string, err error) {
	r, err := s.backend.OpenRead(ctx, p)
	if err != nil {
		return "", err
	}
	defer utils.UncheckedErrorFunc(r.Close)

	f, err := os.CreateTemp("", "scenestore-*"+path.Ext(p))
	if err != nil {
		return "", err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
		if err != nil {
			utils.UncheckedError(os.Remove(f.Name()))
		}
	}()
	if _, err := io.Copy(f, r); err != nil {
		return "", newTransferError("download", p, err)
	}
	return f.Name(), nil
}

// LoadPickle decodes the pickled object stored at p. Containers come back as gopickle types.
func (s *Store) LoadPickle(ctx context.Context, p string) (interface{}, error) {
	r, err := s.backend.OpenRead(ctx, p)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(r.Close)

	u := pickle.NewUnpickler(bufio.NewReader(r))
	v, err := u.Load()
	if err != nil {
		return nil, errors.Wrapf(err, "cannot unpickle %q", p)
	}
	return v, nil
}

// WritePointCloud writes cloud to p in the format its extension names. .pcd uses the smallest
// schema that holds the cloud's colors and intensities, .las goes through LAS and .txt writes one
// row per point. Other extensions return ErrUnsupportedFormat.
func (s *Store) WritePointCloud(ctx context.Context, p string, cloud *pointcloud.PointCloud, mode WriteMode) error {
	if err := cloud.Validate(); err != nil {
		return err
	}
	switch pointcloud.FormatFromPath(p) {
	case pointcloud.FormatPCD:
		return s.write(ctx, p, mode, func(w io.Writer) error {
			return pointcloud.WritePCD(cloud, w, s.pcdType)
		})
	case pointcloud.FormatLAS:
		return s.writeLAS(ctx, p, cloud, mode)
	case pointcloud.FormatText:
		return s.WriteText(ctx, p, cloud.Matrix(), mode)
	default:
		return errors.Wrapf(ErrUnsupportedFormat, "cannot write %q, use a .pcd, .las or .txt file", p)
	}
}

func (s *Store) writeLAS(ctx context.Context, p string, cloud *pointcloud.PointCloud, mode WriteMode) error {
	if !s.IsRemote() {
		return pointcloud.WriteLAS(cloud, p)
	}
	dir, err := os.MkdirTemp("", "scenestore")
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(func() error { return os.RemoveAll(dir) })

	staged := filepath.Join(dir, path.Base(p))
	if err := pointcloud.WriteLAS(cloud, staged); err != nil {
		return err
	}
	return s.write(ctx, p, mode, func(w io.Writer) (err error) {
		f, err := os.Open(staged)
		if err != nil {
			return err
		}
		defer utils.UncheckedErrorFunc(f.Close)
		_, err = io.Copy(w, f)
		return err
	})
}

// WriteText writes rows to p, values tab separated with 4 decimals and one row per line.
func (s *Store) WriteText(ctx context.Context, p string, rows [][]float64, mode WriteMode) error {
	return s.write(ctx, p, mode, func(w io.Writer) error {
		return pointcloud.WriteText(w, rows)
	})
}

func (s *Store) write(ctx context.Context, p string, mode WriteMode, encode func(io.Writer) error) (err error) {
	w, err := s.backend.OpenWrite(ctx, p, mode)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, newTransferError("close", p, w.Close()))
	}()

	buf := bufio.NewWriter(w)
	if err := encode(buf); err != nil {
		return errors.Wrapf(err, "cannot write %q", p)
	}
	if err := buf.Flush(); err != nil {
		return newTransferError("write", p, err)
	}
	s.logger.Debugw("wrote file", "path", p, "mode", mode, "backend", s.backend.Name())
	return nil
}

// ReadPoses reads the poses of the sequence rooted at root from its poses.txt. Each line holds
// the 12 values of a row major 3x4 matrix.
func (s *Store) ReadPoses(ctx context.Context, root string) ([]spatialmath.Pose, error) {
	p := s.Join(root, PosesFile)
	r, err := s.backend.OpenRead(ctx, p)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(r.Close)

	rows, err := pointcloud.ReadRows(r)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read %q", p)
	}
	poses := make([]spatialmath.Pose, 0, len(rows))
	for i, row := range rows {
		pose, err := spatialmath.NewPoseFromMatrix34(row)
		if err != nil {
			return nil, errors.Wrapf(err, "%s line %d", p, i+1)
		}
		poses = append(poses, pose)
	}
	return poses, nil
}

// Exec runs cmd on the remote host. Local stores return ErrNotRemote.
func (s *Store) Exec(ctx context.Context, cmd string) (*session.CommandResult, error) {
	if !s.IsRemote() {
		return nil, ErrNotRemote
	}
	return s.remote.Exec(ctx, cmd)
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
