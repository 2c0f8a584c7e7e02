// Package mysqltest provisions a throwaway MySQL server in a Docker container
// for integration tests, standing in for the database service the platform
// would normally relate to the application.
package mysqltest

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	_ "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/shayancanonical/mysql-test-app/internal/relation"
	"github.com/shayancanonical/mysql-test-app/internal/util"
)

// IntegrationEnv gates integration tests. When unset, StartT skips the test.
const IntegrationEnv = "MYSQL_TEST_APP_INTEGRATION"

// Server is a MySQL server running in a Docker container created for the
// duration of a test run.
type Server struct {
	logger       *zap.Logger
	client       *client.Client
	containerID  string
	host         string
	rootPassword string
	rootDB       *sql.DB
	counter      uint32
	logsDone     chan struct{}
}

// StartT starts a MySQL container and registers its cleanup with t. The test
// is skipped unless the MYSQL_TEST_APP_INTEGRATION environment variable is
// set.
func StartT(t *testing.T) *Server {
	if os.Getenv(IntegrationEnv) == "" {
		t.Skipf("set %s=1 to run tests against a real MySQL server", IntegrationEnv)
	}
	s, err := Start(zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(s.Cleanup)
	return s
}

// Start pulls the MySQL image (MYSQL_TEST_APP_MYSQL_IMAGE, default
// mysql:latest), starts a container from it and waits for the server to
// accept root connections.
func Start(logger *zap.Logger) (*Server, error) {
	ctx := context.Background()
	containerName := "mysql-test-app-" + util.RandomString(8)
	logger = logger.With(zap.String("container-name", containerName))

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	image := util.GetEnvDefault("MYSQL_TEST_APP_MYSQL_IMAGE", "mysql:latest")
	if err := pullImage(ctx, cli, image); err != nil {
		_ = cli.Close()
		return nil, err
	}

	rootPassword := util.RandomString(16)
	cont, err := cli.ContainerCreate(ctx, &container.Config{
		Image: image,
		Env:   []string{"MYSQL_ROOT_PASSWORD=" + rootPassword},
	}, nil, nil, nil, containerName)
	if err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("failed to create mysql container: %w", err)
	}
	logger = logger.With(zap.String("container-id", cont.ID))
	logger.Debug("created mysql container")

	logsDone := make(chan struct{})
	close(logsDone)
	s := &Server{
		logger:       logger,
		client:       cli,
		containerID:  cont.ID,
		rootPassword: rootPassword,
		logsDone:     logsDone,
	}

	if err := cli.ContainerStart(ctx, cont.ID, types.ContainerStartOptions{}); err != nil {
		s.Cleanup()
		return nil, fmt.Errorf("failed to start mysql container: %w", err)
	}
	s.forwardContainerLogs(ctx)

	host, err := containerAddress(ctx, cli, cont.ID)
	if err != nil {
		s.Cleanup()
		return nil, err
	}
	s.host = host

	db, err := sql.Open("mysql", fmt.Sprintf("root:%s@tcp(%s:3306)/mysql", rootPassword, host))
	if err != nil {
		s.Cleanup()
		return nil, fmt.Errorf("failed to open root connection: %w", err)
	}
	s.rootDB = db

	for attempt := 1; ; attempt++ {
		time.Sleep(time.Second)
		err := db.Ping()
		if err == nil {
			break
		} else if attempt == 60 {
			s.Cleanup()
			return nil, fmt.Errorf("mysql failed to start in time: %w", err)
		}
	}
	logger.Debug("mysql server is accepting connections")

	return s, nil
}

// CreateDatabase creates a fresh database together with a user that may
// access it and returns the connection parameters in the same shape the
// relation would deliver them.
func (s *Server) CreateDatabase() (relation.Config, error) {
	id := atomic.AddUint32(&s.counter, 1)
	username := fmt.Sprintf("u%d", id)
	password := util.RandomString(16)
	database := fmt.Sprintf("d%d", id)

	// MySQL does not support prepared statements for these; the values are
	// generated above, not user-controlled.
	stmts := []string{
		fmt.Sprintf("CREATE USER %s IDENTIFIED BY '%s'", username, password),
		fmt.Sprintf("CREATE DATABASE %s", database),
		fmt.Sprintf("GRANT ALL PRIVILEGES ON %s.* TO %s", database, username),
	}
	for _, stmt := range stmts {
		if _, err := s.rootDB.Exec(stmt); err != nil {
			return relation.Config{}, fmt.Errorf("failed to provision database: %w", err)
		}
	}

	return relation.Config{
		Host:     s.host,
		Port:     "3306",
		Username: username,
		Password: password,
		Database: database,
	}, nil
}

// Cleanup removes the container and closes the docker client.
func (s *Server) Cleanup() {
	if s.rootDB != nil {
		_ = s.rootDB.Close()
	}
	err := s.client.ContainerRemove(context.Background(), s.containerID, types.ContainerRemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
	if err != nil {
		s.logger.Error("failed to remove mysql container", zap.Error(err))
	} else {
		s.logger.Debug("removed mysql container")
	}
	_ = s.client.Close()

	// Wait for the log forwarder so that nothing logs after the test ends.
	select {
	case <-s.logsDone:
	case <-time.After(5 * time.Second):
		s.logger.Warn("timed out waiting for container log forwarding to stop")
	}
}

func (s *Server) forwardContainerLogs(ctx context.Context) {
	stream, err := s.client.ContainerAttach(ctx, s.containerID, types.ContainerAttachOptions{
		Stream: true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		s.logger.Warn("failed to attach to container output", zap.Error(err))
		return
	}

	w := newLineWriter(func(line []byte) {
		s.logger.Debug("container output", zap.ByteString("line", line))
	})
	s.logsDone = make(chan struct{})
	go func() {
		defer close(s.logsDone)
		defer func() { _ = w.Close() }()
		_, _ = stdcopy.StdCopy(w, w, stream.Reader)
	}()
}

func pullImage(ctx context.Context, cli *client.Client, image string) error {
	r, err := cli.ImagePull(ctx, image, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %q: %w", image, err)
	}
	defer func() { _ = r.Close() }()
	if _, err := io.Copy(io.Discard, r); err != nil {
		return fmt.Errorf("failed to pull image %q: %w", image, err)
	}
	return nil
}

func containerAddress(ctx context.Context, cli *client.Client, id string) (string, error) {
	info, err := cli.ContainerInspect(ctx, id)
	if err != nil {
		return "", err
	}
	for _, net := range info.NetworkSettings.Networks {
		if net.IPAddress != "" {
			return net.IPAddress, nil
		}
	}
	return "", fmt.Errorf("no address found for container %s", id)
}
