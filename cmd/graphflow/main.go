// graphflow 命令行入口.
//
// 使用方法:
//
//	graphflow init --config config.yaml --kb docs --dim 1536   # 建表并注册知识库
//	graphflow retrieve --config config.yaml --kb docs --dim 1536 "查询内容"
//	graphflow health --config config.yaml                      # 数据库探活
//	graphflow version                                          # 显示版本信息
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/graphflow"
	"github.com/BaSui01/graphflow/config"
	"github.com/BaSui01/graphflow/internal/database"
	"github.com/BaSui01/graphflow/kb"
)

// 构建时注入
var (
	Version   = "dev"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init":
		runInit(os.Args[2:])
	case "retrieve":
		runRetrieve(os.Args[2:])
	case "health":
		runHealth(os.Args[2:])
	case "version":
		fmt.Printf("graphflow %s (%s)\n", Version, GitCommit)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: graphflow <command> [flags]

commands:
  init      create tables for a knowledge base
  retrieve  run a fused knowledge graph retrieval
  health    ping the configured database
  version   print version information`)
}

type kbFlags struct {
	configPath string
	kbID       string
	namespace  string
	dimension  int
}

func parseKBFlags(name string, args []string) (kbFlags, []string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	var f kbFlags
	fs.StringVar(&f.configPath, "config", "config.yaml", "配置文件路径")
	fs.StringVar(&f.kbID, "kb", "", "知识库 ID")
	fs.StringVar(&f.namespace, "namespace", "", "表命名空间, 默认取知识库 ID")
	fs.IntVar(&f.dimension, "dim", 0, "向量维度")
	fs.Parse(args)
	return f, fs.Args()
}

func mustLoadConfig(path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		fatal(err)
	}
	return cfg
}

func newEngine(cfg *config.Config, f kbFlags) (*graphflow.Engine, error) {
	dim := f.dimension
	if dim == 0 {
		dim = cfg.Embedding.Dimensions
	}
	engine, err := graphflow.New(*cfg)
	if err != nil {
		return nil, err
	}
	err = engine.AddKnowledgeBase(context.Background(), kb.KnowledgeBase{
		ID:              f.kbID,
		Name:            f.kbID,
		Namespace:       f.namespace,
		VectorDimension: dim,
	})
	if err != nil {
		engine.Close()
		return nil, err
	}
	return engine, nil
}

func runInit(args []string) {
	f, _ := parseKBFlags("init", args)
	cfg := mustLoadConfig(f.configPath)

	engine, err := newEngine(cfg, f)
	if err != nil {
		fatal(err)
	}
	defer engine.Close()

	fmt.Printf("knowledge base %s initialized\n", f.kbID)
}

func runRetrieve(args []string) {
	f, rest := parseKBFlags("retrieve", args)
	if len(rest) == 0 {
		fatal(fmt.Errorf("retrieve requires a query argument"))
	}
	cfg := mustLoadConfig(f.configPath)

	engine, err := newEngine(cfg, f)
	if err != nil {
		fatal(err)
	}
	defer engine.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	result, err := engine.RetrieveKnowledgeGraph(ctx, rest[0])
	if err != nil {
		fatal(err)
	}
	fmt.Println(result.RAGDescription())
	for _, pe := range result.Errors {
		fmt.Fprintf(os.Stderr, "warning: kb %s: %s\n", pe.KnowledgeBaseID, pe.Message)
	}
}

func runHealth(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "配置文件路径")
	fs.Parse(args)
	cfg := mustLoadConfig(*configPath)

	db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		fatal(err)
	}
	pool, err := database.NewPoolManager(db, cfg.Database.Pool, zap.NewNop())
	if err != nil {
		fatal(err)
	}
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		fatal(err)
	}
	fmt.Println("ok")
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
