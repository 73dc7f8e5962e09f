package main

import (
	"fmt"
	"os"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/colinmarc/hdfs"
	"github.com/juju/ratelimit"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/stripe/warctools/backend"
	"github.com/stripe/warctools/log"
	"github.com/stripe/warctools/stream"
)

var (
	warctoolsVersion string

	configPath  = kingpin.Flag("config", "The config file to use. By default, either warctools.conf in the local directory or /etc/warctools.conf will be used, if present.").PlaceHolder("PATH").String()
	compression = kingpin.Flag("compression", "How the containers are compressed: auto, none, record or file. Overrides the config option of the same name.").Short('c').PlaceHolder("MODE").String()
	format      = kingpin.Flag("format", "The compression format, gzip or snappy. Overrides the config option of the same name.").PlaceHolder("FORMAT").String()
	recordType  = kingpin.Flag("record-type", "The record type, instead of detecting it. Overrides the config option of the same name.").PlaceHolder("TYPE").String()
	filterExpr  = kingpin.Flag("filter", "A CEL expression records have to match, e.g. 'type == \"response\"'.").Short('f').PlaceHolder("EXPR").String()
	statsdAddr  = kingpin.Flag("statsd", "Address of a statsd server to send counters to. Overrides the config option of the same name.").PlaceHolder("ADDRESS").String()

	dumpCommand = kingpin.Command("dump", "Print the headers of every record.")
	dumpContent = dumpCommand.Flag("content", "Print content blocks as well.").Bool()
	dumpPaths   = dumpCommand.Arg("locators", "Containers to read: local paths, s3:// or hdfs:// URLs.").Required().Strings()

	indexCommand  = kingpin.Command("index", "Print an index line, including the offset, for every record.")
	indexParallel = indexCommand.Flag("parallel", "How many containers to read at once. Overrides the config option 'parallelism'.").Short('p').Int()
	indexPaths    = indexCommand.Arg("locators", "Containers to read: local paths, s3:// or hdfs:// URLs.").Required().Strings()

	getCommand = kingpin.Command("get", "Print the record starting at an offset.")
	getOffset  = getCommand.Flag("offset", "The offset the record starts at, as printed by index.").Short('o').Required().Int64()
	getLength  = getCommand.Flag("length", "Only fetch this many bytes of the container, for remote containers.").Int64()
	getContent = getCommand.Flag("content", "Only print the content block.").Bool()
	getPath    = getCommand.Arg("locator", "The container: a local path, an s3:// or hdfs:// URL.").Required().String()
)

func main() {
	kingpin.Version("warctools version " + warctoolsVersion)
	command := kingpin.Parse()

	config, err := loadConfig(*configPath)
	if err == errNoConfig {
		if *configPath != "" {
			log.Fatal("No config file found at ", *configPath)
		}
	} else if err != nil {
		log.Fatal("Error loading config: ", err)
	}

	applyFlags(&config)
	config, err = validateConfig(config)
	if err != nil {
		log.Fatal("Invalid config: ", err)
	}

	filter, err := newRecordFilter(*filterExpr)
	if err != nil {
		log.Fatal("Invalid filter: ", err)
	}

	w := newWarctools(config, newResolver(config), os.Stdout)
	w.filter = filter

	if config.Statsd.Address != "" {
		statsdClient, err := statsd.New(config.Statsd.Address, statsd.WithNamespace("warctools."))
		if err != nil {
			log.Fatalf("Error connecting to statsd: %s", err)
		}

		defer statsdClient.Close()
		w.stats = statsdClient
	}

	switch command {
	case dumpCommand.FullCommand():
		err = w.dump(*dumpPaths, *dumpContent)
	case indexCommand.FullCommand():
		err = w.index(*indexPaths)
	case getCommand.FullCommand():
		err = w.get(*getPath, *getOffset, *getLength, *getContent)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "warctools:", err)
		os.Exit(1)
	}
}

func applyFlags(config *warctoolsConfig) {
	if *compression != "" {
		config.Compression = stream.Compression(*compression)
	}

	if *format != "" {
		config.Format = stream.Format(*format)
	}

	if *recordType != "" {
		config.RecordType = *recordType
	}

	if *statsdAddr != "" {
		config.Statsd.Address = *statsdAddr
	}

	if *indexParallel > 0 {
		config.Parallelism = *indexParallel
	}
}

// newResolver builds a resolver for local files and S3, plus HDFS if a
// namenode is configured. Remote reads share a single bandwidth limit.
func newResolver(config warctoolsConfig) *backend.Resolver {
	r := backend.NewResolver()

	var bucket *ratelimit.Bucket
	if config.Remote.MaxBandwidthMBPerSecond > 0 {
		rate := int64(config.Remote.MaxBandwidthMBPerSecond) * 1024 * 1024
		bucket = ratelimit.NewBucketWithRate(float64(rate), rate)
	}

	s3Backend := s3Setup(config)
	s3Backend.SetRateLimit(bucket)
	r.Register("s3", s3Backend)

	if config.HDFS.Namenode != "" {
		hdfsBackend := hdfsSetup(config)
		hdfsBackend.SetRateLimit(bucket)
		r.Register("hdfs", hdfsBackend)
	}

	return r
}

func s3Setup(config warctoolsConfig) *backend.S3Backend {
	awsConfig := aws.NewConfig()
	if config.S3.Region != "" {
		awsConfig.WithRegion(config.S3.Region)
	}

	if config.S3.AccessKeyId != "" {
		awsConfig.WithCredentials(credentials.NewStaticCredentials(config.S3.AccessKeyId, config.S3.SecretAccessKey, ""))
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		log.Fatalf("Error creating AWS session: %s", err)
	}

	return backend.NewS3Backend(config.S3.MaxRetries, s3.New(sess))
}

func hdfsSetup(config warctoolsConfig) *backend.HdfsBackend {
	var client *hdfs.Client
	var err error
	if config.HDFS.User != "" {
		client, err = hdfs.NewClient(hdfs.ClientOptions{
			Addresses: []string{config.HDFS.Namenode},
			User:      config.HDFS.User,
		})
	} else {
		client, err = hdfs.New(config.HDFS.Namenode)
	}

	if err != nil {
		log.Fatal(fmt.Errorf("Error connecting to HDFS: %s", err))
	}

	return backend.NewHdfsBackend(client, config.HDFS.Namenode)
}
