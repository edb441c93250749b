package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"speaking_backend/internal/app"
	"speaking_backend/internal/config"
	"speaking_backend/internal/repository"
	"speaking_backend/internal/service"
	"speaking_backend/internal/util"
	"speaking_backend/pkg/database"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configDir string

	root := &cobra.Command{
		Use:   "speaking",
		Short: "Speaking assessment scoring service",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// .env 可选，缺失时使用系统环境变量
			if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
				log.Printf("Failed to load .env: %v", err)
			}
		},
	}
	root.PersistentFlags().StringVarP(&configDir, "config", "c", "configs", "目录，包含 config.yaml")

	serve := serveCmd(&configDir)
	root.AddCommand(serve, migrateCmd(&configDir), rescoreCmd(&configDir), tokenCmd(&configDir))

	// 不带子命令时默认启动服务
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd(configDir *string) *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 服务",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configDir)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg.ForceMigrate = migrate

			application, err := app.NewApp(cfg)
			if err != nil {
				return err
			}
			return application.Run(*configDir)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "启动时强制执行数据库迁移（即使是 release 模式）")
	return cmd
}

func migrateCmd(configDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "只执行数据库迁移，完成后退出",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configDir)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			a, err := app.Bootstrap(cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := database.Migrate(a.DB); err != nil {
				return err
			}
			log.Println("数据库迁移完成")
			return nil
		},
	}
}

func rescoreCmd(configDir *string) *cobra.Command {
	var attemptID uint
	cmd := &cobra.Command{
		Use:   "rescore",
		Short: "按当前权重核对已存储总分并输出偏差报告（只读）",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configDir)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			a, err := app.Bootstrap(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			svc := service.NewSpeakingService(
				repository.NewExamAttemptRepository(a.DB),
				repository.NewQuestionRepository(a.DB),
				repository.NewSpeakingAnswerRepository(a.DB),
				nil, nil, nil,
				service.NewScoringWeightService(cfg.Scoring),
				nil,
			)
			report, err := svc.Rescore(attemptID)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().UintVar(&attemptID, "attempt", 0, "只检查该尝试（默认全部）")
	return cmd
}

func tokenCmd(configDir *string) *cobra.Command {
	var (
		userID uint
		role   string
		email  string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "签发访问令牌（有效期取 jwt.expire_hours），用于运维与联调",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configDir)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.JWT.Secret == "" {
				return fmt.Errorf("jwt.secret is not configured")
			}
			token, err := util.GenerateJWT(userID, role, email, cfg.JWT.Secret, cfg.JWT.ExpireTime)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().UintVar(&userID, "user", 0, "用户ID")
	cmd.Flags().StringVar(&role, "role", "student", "角色，如 student / admin")
	cmd.Flags().StringVar(&email, "email", "", "邮箱")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
