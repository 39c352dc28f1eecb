package main

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	GoFlags "github.com/jessevdk/go-flags"
	envconfig "github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"

	"github.com/PremiereGlobal/quicksight-admin/pkg/okta"
	"github.com/PremiereGlobal/quicksight-admin/pkg/quicksight"
	"github.com/PremiereGlobal/quicksight-admin/pkg/secrets"
	"github.com/PremiereGlobal/quicksight-admin/pkg/state"
	"github.com/PremiereGlobal/quicksight-admin/pkg/store"
)

// Application options
type Specification struct {
	GovernanceBucket   string `vrequired:"true" envconfig:"QS_GOVERNANCE_BUCKET" short:"b" long:"governance-bucket" description:"S3 bucket holding the governance manifests and cycle state"`
	UserGovernanceKey  string `envconfig:"QS_USER_GOVERNANCE_KEY" long:"user-governance-key" description:"Object key of the user governance snapshot" vdefault:"qs-user-governance.json"`
	AssetGovernanceKey string `envconfig:"QS_ASSET_GOVERNANCE_KEY" long:"asset-governance-key" description:"Object key of the admin-authored asset manifest" vdefault:"qs-asset-governance.json"`
	AccountID          string `envconfig:"QS_ACCOUNT_ID" long:"account-id" description:"AWS account ID of the QuickSight subscription, otherwise resolved through STS"`
	OktaOrgURL         string `vrequired:"true" envconfig:"OKTA_ORG_URL" short:"o" long:"okta-org-url" description:"Okta org URL (ex: https://mycompany.okta.com)"`
	GroupPrefix        string `envconfig:"OKTA_GROUP_QS_PREFIX" long:"group-prefix" description:"Prefix naming the governed Okta groups" vdefault:"qs_"`
	AdminGroup         string `envconfig:"QS_ADMIN_OKTA_GROUP" long:"admin-group" description:"Okta group granting the ADMIN role" vdefault:"qs_role_admin"`
	AuthorGroup        string `envconfig:"QS_AUTHOR_OKTA_GROUP" long:"author-group" description:"Okta group granting the AUTHOR role" vdefault:"qs_role_author"`
	ReaderGroup        string `envconfig:"QS_READER_OKTA_GROUP" long:"reader-group" description:"Okta group granting the READER role" vdefault:"qs_role_reader"`
	FederatedRole      string `envconfig:"OKTA_ROLE_NAME" long:"federated-role" description:"IAM role Okta users federate into QuickSight through" vdefault:"OktaQuickSightFederatedRole"`
	RoleResolution     string `envconfig:"ROLE_RESOLUTION" long:"role-resolution" description:"Policy when a user sits in several role groups: strict or highest" vdefault:"strict"`
	CreateEmptyGroups  bool   `envconfig:"CREATE_EMPTY_GROUPS" long:"create-empty-groups" description:"Create groups referenced by asset grants even when no user carries them"`
	DeregisterUsers    bool   `envconfig:"DEREGISTER_MISSING_USERS" long:"deregister-missing-users" description:"Delete QuickSight accounts of users no longer in any role group"`
	VaultAddress       string `envconfig:"VAULT_ADDR" short:"a" long:"vault-addr" description:"Vault address to read the Okta API token from; unset reads OKTA_API_TOKEN instead"`
	VaultToken         string `envconfig:"VAULT_TOKEN" short:"t" long:"vault-token" description:"Vault token to use"`
	VaultSkipVerify    bool   `envconfig:"VAULT_SKIP_VERIFY" short:"K" long:"skip-verify" description:"Skip Vault TLS certificate verification"`
	VaultSecretPath    string `envconfig:"VAULT_SECRET_PATH" short:"s" long:"vault-secret-path" description:"Vault path holding the okta_api_token field" vdefault:"secret/data/quicksight-admin"`
	SyncInterval       string `envconfig:"SYNC_INTERVAL" short:"i" long:"sync-interval" description:"Run a cycle this often (ex: 30m); empty runs one cycle and exits"`
	CycleTimeout       string `envconfig:"CYCLE_TIMEOUT" long:"cycle-timeout" description:"Budget for a single cycle" vdefault:"15m"`
	LeaseTTL           string `envconfig:"LEASE_TTL" long:"lease-ttl" description:"Cycle lease time-to-live" vdefault:"30m"`
	Concurrency        string `short:"n" long:"concurrent" description:"Number of concurrent apply workers (default: 5)" vdefault:"5"`
	DryRun             bool   `envconfig:"DRY_RUN" long:"dry-run" description:"Compute and report edits without applying them"`
	Debug              bool   `envconfig:"DEBUG" short:"d" long:"debug" description:"Turn on debug logging"`
	Version            bool   `short:"v" long:"version" description:"Display the version of the tool"`
	CurrentVersion     string
}

var version string
var Spec Specification

func main() {

	// If version is set during build, use that
	if version != "" {
		Spec.CurrentVersion = version
	} else {
		Spec.CurrentVersion = "dev"
	}

	var err error

	// Parse command line arguments first
	var options GoFlags.Options = GoFlags.HelpFlag | GoFlags.PassDoubleDash
	argParser := GoFlags.NewParser(&Spec, options)
	retArgs, err := argParser.ParseArgs(os.Args)
	if err != nil {
		if len(retArgs) > 0 {
			log.Fatal(fmt.Sprintf("%+v", err.Error()))
		} else {
			fmt.Println(err)
			os.Exit(0)
		}
	}

	// If getting version, do that and exit
	if Spec.Version {
		fmt.Println("QuickSight Admin version: " + Spec.CurrentVersion)
		return
	}

	// Parse environment variables
	err = envconfig.Process("", &Spec)
	if err != nil {
		log.Fatal(err.Error())
	}

	// Set log level
	if Spec.Debug {
		log.SetLevel(log.DebugLevel)
		log.Debug("Debug level set")
	} else {
		log.SetLevel(log.InfoLevel)
	}

	// Set defaults and ensure required vars are set
	// We're using custom functions for this because we're using two separate libraries for reading in configuration (args/envs)
	setDefault(&Spec)
	checkRequired(&Spec)

	resolution := state.Resolution(Spec.RoleResolution)
	if !state.ValidResolution(resolution) {
		log.Fatalf("Invalid value '%s' for role-resolution, expecting strict or highest", Spec.RoleResolution)
	}

	cycleTimeout := mustDuration("cycle-timeout", Spec.CycleTimeout)
	leaseTTL := mustDuration("lease-ttl", Spec.LeaseTTL)
	var syncInterval time.Duration
	if Spec.SyncInterval != "" {
		syncInterval = mustDuration("sync-interval", Spec.SyncInterval)
	}

	workerCount, err := strconv.Atoi(Spec.Concurrency)
	if err != nil {
		log.Fatalf("Invalid value '%v' for concurrency", Spec.Concurrency)
	}

	ctx := context.Background()

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatal("Error loading AWS configuration: ", err)
	}

	// Resolve the account unless it was pinned
	accountID := Spec.AccountID
	if accountID == "" {
		identity, err := sts.NewFromConfig(cfg).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
		if err != nil {
			log.Fatal("Error resolving AWS account through STS: ", err)
		}
		accountID = aws.ToString(identity.Account)
		log.Debugf("Resolved AWS account [%s]", accountID)
	}

	// The Okta token comes from Vault when one is configured, otherwise
	// straight from the environment
	var tokenSource secrets.Source = secrets.Env{}
	tokenName := "OKTA_API_TOKEN"
	if Spec.VaultAddress != "" {
		tokenSource, err = secrets.NewVault(Spec.VaultAddress, Spec.VaultToken, Spec.VaultSecretPath, Spec.VaultSkipVerify)
		if err != nil {
			log.Fatal(err)
		}
		tokenName = "okta_api_token"
	}
	oktaToken, err := tokenSource.Get(ctx, tokenName)
	if err != nil {
		log.Fatal("Error obtaining the Okta API token: ", err)
	}

	// Unset the VaultToken after we've used it
	Spec.VaultToken = ""

	// Print Spec configuration if debugging
	log.Debug(fmt.Sprintf("%+v", Spec))

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "quicksight-admin"
	}

	gov := &governance{
		store:              store.NewS3(cfg, Spec.GovernanceBucket),
		directory:          okta.NewClient(Spec.OktaOrgURL, oktaToken),
		target:             quicksight.NewClient(cfg, accountID, Spec.FederatedRole),
		userGovernanceKey:  Spec.UserGovernanceKey,
		assetGovernanceKey: Spec.AssetGovernanceKey,
		groupPrefix:        Spec.GroupPrefix,
		mapping: state.RoleMapping{
			AdminGroup:  Spec.AdminGroup,
			AuthorGroup: Spec.AuthorGroup,
			ReaderGroup: Spec.ReaderGroup,
		},
		resolution:        resolution,
		createEmptyGroups: Spec.CreateEmptyGroups,
		deregisterUsers:   Spec.DeregisterUsers,
		holder:            fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		leaseTTL:          leaseTTL,
		workers:           workerCount,
		dryRun:            Spec.DryRun,
	}

	if syncInterval > 0 {
		log.Infof("Reconciling every %s with a %s cycle budget", syncInterval, cycleTimeout)
		if err := runLoop(gov, syncInterval, cycleTimeout); err != nil {
			log.Fatal(err)
		}
	} else {
		report := runOnce(ctx, gov, cycleTimeout)
		if report == nil || report.Failed > 0 {
			os.Exit(1)
		}
	}

	log.Info("Done")
}

func setDefault(spec *Specification) {

	t := reflect.TypeOf(*spec)

	for i := 0; i < t.NumField(); i++ {

		// Get the field, returns https://golang.org/pkg/reflect/#StructField
		field := t.Field(i)

		// Get the field tag value
		tag := field.Tag.Get("vdefault")

		r := reflect.ValueOf(spec)
		fieldValue := reflect.Indirect(r).FieldByName(field.Name)
		if tag != "" && fieldValue.String() == "" {
			log.Debug("No value for " + field.Name + " set. Setting to default: " + tag)
			fieldValue.SetString(tag)
		}
	}
}

func checkRequired(spec *Specification) {

	t := reflect.TypeOf(*spec)

	for i := 0; i < t.NumField(); i++ {

		// Get the field, returns https://golang.org/pkg/reflect/#StructField
		field := t.Field(i)

		// Get the field tag value
		tag := field.Tag.Get("vrequired")

		if tag == "true" && field.Type.Name() != "bool" {
			r := reflect.ValueOf(spec)
			fieldValue := reflect.Indirect(r).FieldByName(field.Name)
			if fieldValue.String() == "" {
				log.Fatal(field.Name + " required but not set. Use environment variable " + field.Tag.Get("envconfig") + " or command line options: --" + field.Tag.Get("long") + ", -" + field.Tag.Get("short"))
			}
		}
	}
}

func mustDuration(name, value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Fatalf("Invalid value '%s' for %s", value, name)
	}
	return d
}
