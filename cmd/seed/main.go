package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/config"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/domain"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/handler"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/repository"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/seed"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	var (
		membersPath string
		orgID       int64
		venueName   string
		lat, lon    float64
		radius      int
		start       string
		hours       float64
		price       int64
		tokenTTL    time.Duration
	)

	flag.StringVar(&membersPath, "members", "./internal/seed/data/members.csv", "成员表路径")
	flag.Int64Var(&orgID, "org", 1, "组织 ID")
	flag.StringVar(&venueName, "venue", "东校园图书馆", "场地名称")
	flag.Float64Var(&lat, "lat", 23.0646, "场地纬度")
	flag.Float64Var(&lon, "lon", 113.3925, "场地经度")
	flag.IntVar(&radius, "radius", 150, "地理围栏半径（米）")
	flag.StringVar(&start, "start", "", "班次开始时间 (RFC3339)，默认为一小时后的整点")
	flag.Float64Var(&hours, "hours", 4, "班次时长（小时）")
	flag.Int64Var(&price, "price", 3000, "每小时价格（分）")
	flag.DurationVar(&tokenTTL, "token-ttl", 24*time.Hour, "为成员签发的开发令牌有效期，为 0 时不签发")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	// 读取配置文件
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("无法读取配置文件", slog.String("error", err.Error()))
		os.Exit(1)
	}

	shiftStart := time.Now().Add(time.Hour).Truncate(time.Hour)
	if start != "" {
		shiftStart, err = time.Parse(time.RFC3339, start)
		if err != nil {
			logger.Error("班次开始时间格式错误", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	file, err := os.Open(membersPath)
	if err != nil {
		logger.Error("打开成员表失败", "error", err)
		os.Exit(1)
	}
	defer file.Close()

	members, err := seed.ReadMembers(file)
	if err != nil {
		logger.Error("读取成员表失败", "error", err)
		os.Exit(1)
	}

	// 创建数据库连接池
	dbpool, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		logger.Error("无法创建数据库连接池", "error", err)
		return
	}
	defer dbpool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Database.ConnectTimeout)*time.Second)
	defer cancel()

	// sql.Open 只是创建数据库连接池对象，并不会立即连接到数据库，因此需要显式地 ping 一下
	if err := dbpool.PingContext(ctx); err != nil {
		logger.Error("无法连接到数据库", "error", err)
		return
	}

	repo := repository.NewRepository(cfg, dbpool)

	result, err := seed.Demo(context.Background(), repo, members, seed.Options{
		OrgID:                orgID,
		VenueName:            venueName,
		Latitude:             lat,
		Longitude:            lon,
		GeofenceRadius:       radius,
		ShiftStart:           shiftStart,
		ShiftLength:          time.Duration(hours * float64(time.Hour)),
		PriceCents:           price,
		ClockInBufferMinutes: cfg.Clock.ClockInBufferMinutes,
		GraceMinutes:         cfg.Clock.GraceMinutes,
	})
	if err != nil {
		logger.Error("插入演示数据失败", "error", err)
		return
	}

	logger.Info("插入数据完成",
		"venueID", result.Venue.ID,
		"shiftID", result.Shift.ID,
		"start", result.Shift.StartTime,
		"members", len(result.Members),
		"assignments", len(result.Assignments),
	)

	if tokenTTL <= 0 {
		return
	}
	for _, m := range result.Members {
		actor := domain.Actor{ID: m.Recipient.UserID, OrgID: orgID, Role: m.Role}
		token, err := handler.NewToken(cfg.JWT.Secret, actor, tokenTTL)
		if err != nil {
			logger.Error("无法签发令牌", "userID", actor.ID, "error", err)
			continue
		}
		fmt.Printf("%s\t%s\t%d\t%s\n", m.Recipient.FullName, m.Role, actor.ID, token)
	}
}
