package reader

import (
	"context"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lakeflow/internal/contract"
	"github.com/sells-group/lakeflow/internal/model"
	"github.com/sells-group/lakeflow/internal/resilience"
)

// ftpReader downloads the contract's file from an FTP drop zone and parses
// it by extension (csv or xlsx).
type ftpReader struct {
	contract *contract.Contract
	timeout  time.Duration
}

func newFTPReader(c *contract.Contract, timeout time.Duration) *ftpReader {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ftpReader{contract: c, timeout: timeout}
}

func (r *ftpReader) Read(ctx context.Context) (*model.Batch, error) {
	rawURL := r.contract.Source.URL
	rc, err := r.download(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	switch ext := strings.ToLower(filepath.Ext(rawURL)); ext {
	case ".csv", ".txt", ".tsv":
		return parseCSV(rc, r.contract)
	case ".xlsx":
		// The workbook parser needs a seekable file.
		path, err := spoolToTemp(rc)
		if err != nil {
			return nil, err
		}
		defer os.Remove(path)
		return parseXLSX(path, r.contract)
	default:
		return nil, eris.Errorf("reader: unsupported ftp file extension %q", ext)
	}
}

// parseFTPURL extracts host (with port) and path from an FTP URL.
func parseFTPURL(rawURL string) (host string, path string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrap(err, "reader: parse ftp url")
	}
	if u.Scheme != "ftp" {
		return "", "", eris.Errorf("reader: expected ftp scheme, got %q", u.Scheme)
	}

	host = u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "21")
	}

	path = u.Path
	if path == "" {
		return "", "", eris.New("reader: empty path in ftp url")
	}

	return host, path, nil
}

// ftpConnReader wraps an FTP response and connection so that closing the
// reader also closes the response and disconnects from the server.
type ftpConnReader struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (r *ftpConnReader) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

func (r *ftpConnReader) Close() error {
	respErr := r.resp.Close()
	quitErr := r.conn.Quit()
	if respErr != nil {
		return eris.Wrap(respErr, "reader: close ftp response")
	}
	if quitErr != nil {
		return eris.Wrap(quitErr, "reader: quit ftp connection")
	}
	return nil
}

// download connects, retrieves the file and returns a reader. Transient
// connection failures are retried with backoff. The caller must close the
// reader to release the FTP connection.
func (r *ftpReader) download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	host, path, err := parseFTPURL(rawURL)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("reader: ftp connecting", zap.String("host", host), zap.String("path", path))

	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("ftp", "download")

	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (io.ReadCloser, error) {
		conn, err := ftp.Dial(host, ftp.DialWithTimeout(r.timeout), ftp.DialWithContext(ctx))
		if err != nil {
			return nil, eris.Wrap(err, "reader: ftp dial")
		}

		if err := conn.Login("anonymous", "anonymous@"); err != nil {
			conn.Quit()
			return nil, eris.Wrap(err, "reader: ftp login")
		}

		resp, err := conn.Retr(path)
		if err != nil {
			conn.Quit()
			return nil, eris.Wrap(err, "reader: ftp retrieve")
		}

		return &ftpConnReader{resp: resp, conn: conn}, nil
	})
}

func spoolToTemp(src io.Reader) (string, error) {
	f, err := os.CreateTemp("", "lakeflow-ftp-*.xlsx")
	if err != nil {
		return "", eris.Wrap(err, "reader: create temp file")
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", eris.Wrap(err, "reader: spool ftp download")
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", eris.Wrap(err, "reader: close temp file")
	}
	return f.Name(), nil
}
