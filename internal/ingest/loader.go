package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"pharmacy-finder/internal/config"
	"pharmacy-finder/internal/models"
)

// Store is the subset of the persistence layer the loader writes to.
type Store interface {
	UpsertPharmacies(ctx context.Context, pharmacies []models.Pharmacy) (int, error)
}

type objectFetcher interface {
	Fetch(ctx context.Context) (io.ReadCloser, error)
}

// Loader imports a pharmacy dump (public-data JSON) into the store.
type Loader struct {
	store   Store
	fetcher objectFetcher
	now     func() time.Time
}

// New builds a loader reading from S3 when a bucket is configured, or from
// the configured local dump path otherwise.
func New(ctx context.Context, cfg config.Config, st Store) (*Loader, error) {
	var fetcher objectFetcher
	switch {
	case cfg.IngestS3Bucket != "":
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		fetcher = &s3Fetcher{client: client, bucket: cfg.IngestS3Bucket, key: cfg.IngestS3Key}
	case cfg.IngestLocalPath != "":
		fetcher = &localFetcher{path: cfg.IngestLocalPath}
	default:
		return nil, fmt.Errorf("ingest: neither INGEST_S3_BUCKET nor INGEST_LOCAL_PATH configured")
	}
	return &Loader{store: st, fetcher: fetcher, now: time.Now}, nil
}

// NewWithFetcher wires a custom fetcher; used by tests.
func NewWithFetcher(st Store, fetcher objectFetcher) *Loader {
	return &Loader{store: st, fetcher: fetcher, now: time.Now}
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.IngestS3Region),
	}
	if cfg.IngestS3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.IngestS3Endpoint,
					HostnameImmutable: cfg.IngestS3PathStyle,
					SigningRegion:     cfg.IngestS3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.IngestS3PathStyle
	}), nil
}

// record mirrors the field names of the public pharmacy dataset. Numeric
// fields arrive as strings; duty times are HHMM strings per weekday, with
// slot 8 reserved for public holidays.
type record struct {
	HPID string
	Name string
	Addr string
	Tel  string
	Lat  string
	Lng  string

	Open  [8]string
	Close [8]string
}

// UnmarshalJSON tolerates the dataset's mixed typing: duty times and
// coordinates show up both as strings and as numbers depending on export.
func (r *record) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.HPID = asString(raw["hpid"])
	r.Name = asString(raw["dutyName"])
	r.Addr = asString(raw["dutyAddr"])
	r.Tel = asString(raw["dutyTel1"])
	r.Lat = asString(raw["wgs84Lat"])
	r.Lng = asString(raw["wgs84Lon"])
	for i := 0; i < 8; i++ {
		r.Open[i] = asString(raw[fmt.Sprintf("dutyTime%ds", i+1)])
		r.Close[i] = asString(raw[fmt.Sprintf("dutyTime%dc", i+1)])
	}
	return nil
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

var dutyDayKeys = [8]string{
	models.DayMon, models.DayTue, models.DayWed, models.DayThu,
	models.DayFri, models.DaySat, models.DaySun, models.DayHoliday,
}

func (r *record) toPharmacy(now time.Time) models.Pharmacy {
	h := models.OperatingHours{}
	for i, key := range dutyDayKeys {
		o, c := padHHMM(r.Open[i]), padHHMM(r.Close[i])
		if o == "" || c == "" {
			continue
		}
		h[key] = &models.HoursSlot{Open: o, Close: c}
	}
	sido, gugun := splitRegion(r.Addr)
	lat, _ := strconv.ParseFloat(r.Lat, 64)
	lng, _ := strconv.ParseFloat(r.Lng, 64)
	return models.Pharmacy{
		HPID:      r.HPID,
		Name:      r.Name,
		Address:   r.Addr,
		Sido:      sido,
		Gugun:     gugun,
		Phone:     r.Tel,
		Lat:       lat,
		Lng:       lng,
		Hours:     h,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// padHHMM restores the leading zero that numeric exports strip ("900" ->
// "0900"). Anything that is not 3 or 4 digits passes through untouched and
// is rejected later by the hours resolver.
func padHHMM(s string) string {
	if len(s) == 3 {
		return "0" + s
	}
	return s
}

// splitRegion extracts sido and gugun from the leading address tokens
// ("서울특별시 강남구 ..." -> 서울특별시, 강남구).
func splitRegion(addr string) (string, string) {
	parts := strings.Fields(addr)
	switch {
	case len(parts) >= 2:
		return parts[0], parts[1]
	case len(parts) == 1:
		return parts[0], ""
	default:
		return "", ""
	}
}

// Run fetches the dump, converts it, and upserts all records with a valid
// hpid. Returns the number of rows written.
func (l *Loader) Run(ctx context.Context) (int, error) {
	body, err := l.fetcher.Fetch(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch dump: %w", err)
	}
	defer body.Close()

	var records []record
	if err := json.NewDecoder(body).Decode(&records); err != nil {
		return 0, fmt.Errorf("decode dump: %w", err)
	}

	now := l.now().UTC()
	pharmacies := make([]models.Pharmacy, 0, len(records))
	for i := range records {
		if records[i].HPID == "" {
			continue
		}
		pharmacies = append(pharmacies, records[i].toPharmacy(now))
	}
	if len(pharmacies) == 0 {
		return 0, nil
	}

	n, err := l.store.UpsertPharmacies(ctx, pharmacies)
	if err != nil {
		return 0, fmt.Errorf("upsert pharmacies: %w", err)
	}
	return n, nil
}

type s3Fetcher struct {
	client *s3.Client
	bucket string
	key    string
}

func (f *s3Fetcher) Fetch(ctx context.Context) (io.ReadCloser, error) {
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object s3://%s/%s: %w", f.bucket, f.key, err)
	}
	return out.Body, nil
}

type localFetcher struct {
	path string
}

func (f *localFetcher) Fetch(_ context.Context) (io.ReadCloser, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("open dump: %w", err)
	}
	return file, nil
}
