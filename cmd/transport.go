package cmd

import (
	"context"
	"fmt"
	"os"

	logger "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gardener/cnudie-transport-tool/application"
	"github.com/gardener/cnudie-transport-tool/config"
	"github.com/gardener/cnudie-transport-tool/domain"
	"github.com/gardener/cnudie-transport-tool/infrastructure/bom"
	"github.com/gardener/cnudie-transport-tool/infrastructure/command"
	"github.com/gardener/cnudie-transport-tool/infrastructure/cosign"
	"github.com/gardener/cnudie-transport-tool/infrastructure/processing"
	"github.com/gardener/cnudie-transport-tool/infrastructure/registry"
)

//nolint:gochecknoglobals // required by cobra CLI pattern
var (
	descriptorPath     string
	processingCfgPath  string
	dryRun             bool
	tgtCtxRepoURL      string
	srcCtxRepoURL      string
	componentName      string
	componentVersion   string
	skipCDValidation   bool
	uploadModeCD       string
	uploadModeImages   string
	replaceTags        bool
	includedPlatforms  []string
	generateSignatures bool
	cosignKeyFile      string
	rbscGitURL         string
	rbscGitBranch      string
	registryUsername   string
	registryPassword   string
	plainHTTP          bool
)

//nolint:gochecknoglobals // required by cobra CLI pattern
var transportCmd = &cobra.Command{
	Use:   "transport",
	Short: "Copy a component descriptor graph to a target context repository",
	Long: `Copies the given component descriptor, its transitively referenced
component descriptors and their OCI image resources into a target
context repository, applying the processing rules from the processing
configuration.`,
	RunE: runTransport,
}

//nolint:gochecknoinits // required by cobra CLI pattern
func init() {
	transportCmd.Flags().StringVarP(&descriptorPath, "component-descriptor", "c", "", "Path to the component descriptor to transport")
	transportCmd.Flags().StringVarP(&processingCfgPath, "processing-config", "p", "", "Path to the processing configuration (required)")
	transportCmd.Flags().BoolVarP(&dryRun, "dry-run", "d", false, "Plan the transport without registry writes")
	transportCmd.Flags().StringVarP(&tgtCtxRepoURL, "tgt-ctx-repo-url", "t", "", "Target context repository base URL (required)")
	transportCmd.Flags().StringVarP(&srcCtxRepoURL, "src-ctx-repo-url", "s", "", "Source context repository base URL")
	transportCmd.Flags().StringVarP(&componentName, "component-name", "n", "", "Component name (alternative to --component-descriptor)")
	transportCmd.Flags().StringVar(&componentVersion, "component-version", "", "Component version (alternative to --component-descriptor)")
	transportCmd.Flags().BoolVarP(&skipCDValidation, "skip-cd-validation", "l", false, "Skip component descriptor validation before upload")
	transportCmd.Flags().StringVarP(&uploadModeCD, "upload-mode-cd", "u", string(domain.UploadModeSkip), "Upload mode for component descriptors (skip, overwrite, fail)")
	transportCmd.Flags().StringVarP(&uploadModeImages, "upload-mode-images", "i", string(domain.UploadModeSkip), "Upload mode for images (skip, overwrite)")
	transportCmd.Flags().BoolVarP(&replaceTags, "replace-resource-tags-with-digests", "r", false, "Replace tags with digests for copied OCI resources")
	transportCmd.Flags().StringSliceVar(&includedPlatforms, "included-platforms", nil, "Keep only these platforms in multi-arch images (os/arch[/variant])")
	transportCmd.Flags().BoolVar(&generateSignatures, "generate-cosign-signatures", false, "Generate cosign signatures for copied image resources")
	transportCmd.Flags().StringVar(&cosignKeyFile, "cosign-key-file", "", "PEM key file used for cosign signatures")
	transportCmd.Flags().StringVarP(&rbscGitURL, "rbsc-git-url", "g", "", "Git repository the BOM is applied to")
	transportCmd.Flags().StringVarP(&rbscGitBranch, "rbsc-git-branch", "b", "", "Branch the BOM is pushed to")
	transportCmd.Flags().StringVar(&registryUsername, "registry-username", "", "Static registry username (default: Docker credential chain)")
	transportCmd.Flags().StringVar(&registryPassword, "registry-password", "", "Static registry password")
	transportCmd.Flags().BoolVar(&plainHTTP, "plain-http", false, "Use HTTP instead of HTTPS for registry communication")

	_ = transportCmd.MarkFlagRequired("processing-config")
	_ = transportCmd.MarkFlagRequired("tgt-ctx-repo-url")

	rootCmd.AddCommand(transportCmd)
}

func runTransport(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	modeCD, err := domain.ParseUploadMode(uploadModeCD)
	if err != nil {
		return err
	}
	modeImages, err := domain.ParseUploadMode(uploadModeImages)
	if err != nil {
		return err
	}

	processingCfg, err := config.LoadProcessingConfig(processingCfgPath)
	if err != nil {
		return err
	}
	pipelines, err := processing.BuildPipelines(processingCfg)
	if err != nil {
		return err
	}

	clientOpts := registryOptions()
	target := registry.New(tgtCtxRepoURL, clientOpts...)

	root, source, err := resolveRootDescriptor(ctx, clientOpts)
	if err != nil {
		return err
	}

	signer, err := buildSigner()
	if err != nil {
		return err
	}
	bomApplier, err := buildBOMApplier()
	if err != nil {
		return err
	}

	service := application.NewTransportService(source, target, source, pipelines, signer, bomApplier)

	logger.Infof("will now copy/patch the component descriptor to %s", tgtCtxRepoURL)

	patched, err := service.Run(ctx, root, application.TransportOptions{
		DryRun:                 dryRun,
		UploadModeCD:           modeCD,
		UploadModeImages:       modeImages,
		ReplaceTagsWithDigests: replaceTags,
		SkipValidation:         skipCDValidation,
		IncludedPlatforms:      includedPlatforms,
	})
	if err != nil {
		return err
	}

	if descriptorPath != "" && !dryRun {
		data, encodeErr := patched.Encode()
		if encodeErr != nil {
			return encodeErr
		}
		if writeErr := os.WriteFile(descriptorPath, data, 0o644); writeErr != nil {
			return fmt.Errorf("failed to write patched descriptor to %q: %w", descriptorPath, writeErr)
		}
	}

	return nil
}

// resolveRootDescriptor loads the descriptor either from the local file or
// from the source context repository, mirroring the two invocation styles
// of the pipeline.
func resolveRootDescriptor(ctx context.Context, clientOpts []registry.Option) (*domain.ComponentDescriptor, *registry.Client, error) {
	switch {
	case descriptorPath != "":
		data, err := os.ReadFile(descriptorPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read component descriptor %q: %w", descriptorPath, err)
		}
		root, err := domain.ParseDescriptor(data)
		if err != nil {
			return nil, nil, err
		}
		sourceURL := srcCtxRepoURL
		if sourceURL == "" {
			repoCtx, ok := root.Component.CurrentRepositoryContext()
			if !ok {
				return nil, nil, fmt.Errorf("component descriptor %q has no repository context and --src-ctx-repo-url is not set", descriptorPath)
			}
			sourceURL = repoCtx.BaseURL
		}
		return root, registry.New(sourceURL, clientOpts...), nil
	case srcCtxRepoURL != "" && componentName != "" && componentVersion != "":
		source := registry.New(srcCtxRepoURL, clientOpts...)
		root, err := source.FetchDescriptor(ctx, componentName, componentVersion)
		if err != nil {
			return nil, nil, err
		}
		return root, source, nil
	default:
		return nil, nil, fmt.Errorf("either --component-descriptor or --src-ctx-repo-url, --component-name and --component-version must be set")
	}
}

func registryOptions() []registry.Option {
	var opts []registry.Option
	if registryUsername != "" {
		opts = append(opts, registry.WithStaticCredentials("", registryUsername, registryPassword))
	}
	if plainHTTP {
		opts = append(opts, registry.WithPlainHTTP(true))
	}
	return opts
}

func buildSigner() (application.Signer, error) {
	if !generateSignatures {
		return nil, nil
	}
	if cosignKeyFile == "" {
		return nil, fmt.Errorf("--cosign-key-file is required with --generate-cosign-signatures")
	}
	return cosign.NewSigner(cosignKeyFile, command.NewExecRunner()), nil
}

func buildBOMApplier() (application.BOMApplier, error) {
	switch {
	case rbscGitURL == "" && rbscGitBranch == "":
		return nil, nil
	case rbscGitURL == "" || rbscGitBranch == "":
		return nil, fmt.Errorf("--rbsc-git-url and --rbsc-git-branch must be set together")
	}

	opts := []bom.ApplierOption{}
	if token := config.RBSCGitTokenFromEnv(); token != "" {
		opts = append(opts, bom.WithBasicAuth("cnudie-transport-tool", token))
	}
	return bom.NewApplier(rbscGitURL, rbscGitBranch, opts...), nil
}
