/*
包 database 提供基于 GORM 的 PostgreSQL 连接池管理.

# 概述

所有知识库的实体/关系/分块表共享同一个连接池. PoolManager 封装
GORM 与 database/sql 的连接池配置, 统一管理连接生命周期, 后台
健康检查定时探活, 异常时通过 zap 日志输出诊断信息.

# 核心类型

  - PoolManager: 连接池管理器, 提供 DB()/Ping()/Stats()/Close()
    等生命周期方法.
  - PoolConfig: 最大空闲连接数, 最大打开连接数, 连接最大生命周期,
    空闲超时与健康检查间隔.
  - TransactionFunc: 事务回调函数类型.

图谱写入路径 (摄入落库, 级联删除) 通过 WithTransactionRetry 执行,
死锁与序列化失败 (SQLSTATE 40001) 按指数退避重试.
*/
package database
